package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConverter() *Converter {
	return NewConverter(ConverterConfig{
		ProfitMargin:    dec("1.5"),
		CreditUnitValue: dec("0.05"),
		MinCredits:      1,
	})
}

func TestToCreditsRoundsUp(t *testing.T) {
	conv := newTestConverter()

	res, err := conv.ToCredits(FixedRule{Price: dec("0.08")}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Credits)
	assert.True(t, dec("0.12").Equal(res.Breakdown.TotalCost))
	assert.True(t, dec("2.4").Equal(res.Breakdown.RawCredits))
	assert.Equal(t, int64(3), res.Breakdown.RoundedCredits)
}

func TestToCreditsMinimumFloor(t *testing.T) {
	conv := newTestConverter()

	// Cheap rule still rounds up to at least one credit.
	res, err := conv.ToCredits(FixedRule{Price: dec("0.001")}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Credits)
}

func TestToCreditsZeroCost(t *testing.T) {
	conv := newTestConverter()

	res, err := conv.ToCredits(FixedRule{Price: decimal.Zero}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Credits, "zero-cost rules stay free")
}

func TestToCreditsExactMultiple(t *testing.T) {
	conv := newTestConverter()

	// 0.1 * 1.5 / 0.05 = 3 exactly, no rounding.
	res, err := conv.ToCredits(FixedRule{Price: dec("0.1")}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Credits)
	assert.True(t, res.Breakdown.RawCredits.Equal(dec("3")))
}

func TestToCreditsPropagatesEvaluationError(t *testing.T) {
	conv := newTestConverter()

	rule := PerUnitRule{Parameter: "mode", Rates: []Rate{{Value: "standard", Price: dec("0.05")}}}
	_, err := conv.ToCredits(rule, Params{})

	var missing *MissingParameterError
	require.ErrorAs(t, err, &missing)
}

func TestToCreditsBreakdownRecordsInputs(t *testing.T) {
	conv := NewConverter(ConverterConfig{
		ProfitMargin:    dec("2"),
		CreditUnitValue: dec("0.01"),
		MinCredits:      1,
	})

	res, err := conv.ToCredits(FixedRule{Price: dec("0.05")}, nil)
	require.NoError(t, err)

	assert.True(t, dec("0.05").Equal(res.Breakdown.Cost))
	assert.True(t, dec("2").Equal(res.Breakdown.Margin))
	assert.True(t, dec("0.01").Equal(res.Breakdown.CreditUnitValue))
	assert.Equal(t, int64(10), res.Credits)
}

func TestEstimateUsesDefaultCost(t *testing.T) {
	conv := newTestConverter()

	rule := PerUnitRule{Parameter: "mode", Rates: []Rate{
		{Value: "standard", Price: dec("0.05")},
		{Value: "pro", Price: dec("0.5")},
	}}

	res := conv.Estimate(rule)
	// 0.05 * 1.5 / 0.05 = 1.5 -> 2
	assert.Equal(t, int64(2), res.Credits)
}
