package pricing

import (
	"github.com/shopspring/decimal"
)

// Breakdown is the authoritative audit record of one credit conversion. It is
// returned to callers for price estimation and stored verbatim on the
// reservation.
type Breakdown struct {
	Cost            decimal.Decimal `json:"cost"`
	Margin          decimal.Decimal `json:"margin"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	CreditUnitValue decimal.Decimal `json:"credit_unit_value"`
	RawCredits      decimal.Decimal `json:"raw_credits"`
	RoundedCredits  int64           `json:"rounded_credits"`
}

// Conversion is the result of converting a provider cost into credits.
type Conversion struct {
	Credits   int64     `json:"credits"`
	Breakdown Breakdown `json:"breakdown"`
}

// ConverterConfig holds the ambient billing knobs. They are injected at
// construction so conversion stays deterministic under test.
type ConverterConfig struct {
	ProfitMargin    decimal.Decimal
	CreditUnitValue decimal.Decimal
	MinCredits      int64
}

// Converter turns provider costs into integer credit amounts, always rounding
// up in the house's favor.
type Converter struct {
	margin     decimal.Decimal
	unitValue  decimal.Decimal
	minCredits int64
}

// NewConverter creates a converter with the given billing configuration.
func NewConverter(cfg ConverterConfig) *Converter {
	min := cfg.MinCredits
	if min < 1 {
		min = 1
	}
	return &Converter{
		margin:     cfg.ProfitMargin,
		unitValue:  cfg.CreditUnitValue,
		minCredits: min,
	}
}

// ToCredits evaluates the rule against params and converts the resulting cost
// into credits. Rules price a single unit; multi-unit requests multiply the
// result post-hoc, not by feeding a count into the rule.
func (c *Converter) ToCredits(rule Rule, params Params) (*Conversion, error) {
	cost, err := Evaluate(rule, params)
	if err != nil {
		return nil, err
	}

	total := cost.Mul(c.margin)
	raw := total.Div(c.unitValue)
	rounded := raw.Ceil().IntPart()

	// Rounding artifacts on very cheap rules must not produce a free
	// generation: fall back to the rule's default cost with a floor of one.
	if rounded == 0 && cost.IsPositive() {
		fallback := DefaultCost(rule).Mul(c.margin).Div(c.unitValue).Ceil().IntPart()
		if fallback < c.minCredits {
			fallback = c.minCredits
		}
		rounded = fallback
	}

	return &Conversion{
		Credits: rounded,
		Breakdown: Breakdown{
			Cost:            cost,
			Margin:          c.margin,
			TotalCost:       total,
			CreditUnitValue: c.unitValue,
			RawCredits:      raw,
			RoundedCredits:  rounded,
		},
	}, nil
}

// Estimate converts without evaluating: used when only the default cost is
// available from context.
func (c *Converter) Estimate(rule Rule) *Conversion {
	cost := DefaultCost(rule)
	total := cost.Mul(c.margin)
	raw := total.Div(c.unitValue)
	rounded := raw.Ceil().IntPart()
	if rounded < c.minCredits && cost.IsPositive() {
		rounded = c.minCredits
	}
	return &Conversion{
		Credits: rounded,
		Breakdown: Breakdown{
			Cost:            cost,
			Margin:          c.margin,
			TotalCost:       total,
			CreditUnitValue: c.unitValue,
			RawCredits:      raw,
			RoundedCredits:  rounded,
		},
	}
}
