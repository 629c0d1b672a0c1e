package pricing

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Evaluate computes the provider-side cost for a rule given the caller's
// params. It is pure: no state, no side effects.
func Evaluate(rule Rule, params Params) (decimal.Decimal, error) {
	switch r := rule.(type) {
	case FixedRule:
		return r.Price, nil

	case PerUnitRule:
		raw, ok := params[r.Parameter]
		if !ok {
			return decimal.Zero, &MissingParameterError{Parameter: r.Parameter}
		}
		key := stringify(raw)

		rate, ok := r.rateFor(key)
		if !ok {
			return decimal.Zero, &NoRateForValueError{Parameter: r.Parameter, Value: key}
		}

		units := decimal.NewFromInt(1)
		if v, present := params[UnitCountParam]; present {
			n, numeric := toNumber(v)
			if !numeric {
				return decimal.Zero, &InvalidUnitsError{Value: v}
			}
			units = n
		}
		return rate.Mul(units), nil

	case ConditionalRule:
		// First match wins. Case lists may contain overlapping conditions and
		// declaration order is the tie-break, so no specificity scoring here.
		for _, c := range r.Cases {
			if matches(c.Conditions, params) {
				return c.Price, nil
			}
		}
		return decimal.Zero, &NoMatchingRuleError{}

	default:
		return decimal.Zero, fmt.Errorf("unknown rule type %T: %w", rule, ErrValidation)
	}
}

// DefaultCost returns the fallback cost when evaluation is not possible from
// available context: the fixed price, the first rate, or the first case.
func DefaultCost(rule Rule) decimal.Decimal {
	switch r := rule.(type) {
	case FixedRule:
		return r.Price
	case PerUnitRule:
		if len(r.Rates) == 0 {
			return decimal.Zero
		}
		return r.Rates[0].Price
	case ConditionalRule:
		if len(r.Cases) == 0 {
			return decimal.Zero
		}
		return r.Cases[0].Price
	default:
		return decimal.Zero
	}
}

func (r PerUnitRule) rateFor(value string) (decimal.Decimal, bool) {
	for _, rate := range r.Rates {
		if rate.Value == value {
			return rate.Price, true
		}
	}
	return decimal.Zero, false
}

// matches reports whether every condition equals the corresponding param
// under coerced comparison.
func matches(conditions map[string]any, params Params) bool {
	for key, want := range conditions {
		got, ok := params[key]
		if !ok {
			return false
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values after coercion: numerically when both sides
// are numeric, otherwise by their string forms.
func valuesEqual(a, b any) bool {
	na, aNum := toNumber(a)
	nb, bNum := toNumber(b)
	if aNum && bNum {
		return na.Equal(nb)
	}
	return stringify(a) == stringify(b)
}

// toNumber coerces a param value to a decimal. Strings holding durations or
// counts arrive as text from JSON payloads and are parsed.
func toNumber(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case decimal.Decimal:
		return n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
