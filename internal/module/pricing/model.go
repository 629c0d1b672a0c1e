package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rule is the closed set of pricing rule kinds. Implementations are the only
// types accepted by Evaluate; the unexported marker keeps the set closed so a
// new kind cannot be added without extending the evaluator.
type Rule interface {
	isRule()
}

// FixedRule prices every generation at a flat cost.
type FixedRule struct {
	Price decimal.Decimal `json:"price"`
}

func (FixedRule) isRule() {}

// Rate maps one parameter value to its per-unit price.
type Rate struct {
	Value string          `json:"value"`
	Price decimal.Decimal `json:"price"`
}

// PerUnitRule prices by a caller-supplied parameter value, multiplied by the
// implicit unit_count parameter (default 1). Rates keep declaration order so
// the first entry serves as the default cost.
type PerUnitRule struct {
	Parameter string `json:"parameter"`
	Rates     []Rate `json:"rates"`
}

func (PerUnitRule) isRule() {}

// ConditionalCase is one branch of a conditional rule.
type ConditionalCase struct {
	Conditions map[string]any  `json:"conditions"`
	Price      decimal.Decimal `json:"price"`
}

// ConditionalRule prices by the first case whose conditions all match the
// calculation params. Cases may overlap; declaration order is the tie-break.
type ConditionalRule struct {
	Cases []ConditionalCase `json:"rules"`
}

func (ConditionalRule) isRule() {}

// Params holds arbitrary caller-supplied calculation parameters.
type Params map[string]any

// UnitCountParam is the implicit multiplier parameter for per-unit rules.
const UnitCountParam = "unit_count"

// ruleEnvelope is the serialized form of a Rule.
type ruleEnvelope struct {
	Kind string          `json:"kind"`
	Rule json.RawMessage `json:"rule"`
}

// MarshalRule serializes a rule with its kind tag.
func MarshalRule(r Rule) ([]byte, error) {
	var kind string
	switch r.(type) {
	case FixedRule:
		kind = "fixed"
	case PerUnitRule:
		kind = "per_unit"
	case ConditionalRule:
		kind = "conditional"
	default:
		return nil, fmt.Errorf("unknown rule type %T", r)
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal rule: %w", err)
	}
	return json.Marshal(ruleEnvelope{Kind: kind, Rule: raw})
}

// UnmarshalRule deserializes a rule from its tagged envelope.
func UnmarshalRule(data []byte) (Rule, error) {
	var env ruleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal rule envelope: %w", err)
	}

	switch env.Kind {
	case "fixed":
		var r FixedRule
		if err := json.Unmarshal(env.Rule, &r); err != nil {
			return nil, fmt.Errorf("unmarshal fixed rule: %w", err)
		}
		return r, nil
	case "per_unit":
		var r PerUnitRule
		if err := json.Unmarshal(env.Rule, &r); err != nil {
			return nil, fmt.Errorf("unmarshal per_unit rule: %w", err)
		}
		return r, nil
	case "conditional":
		var r ConditionalRule
		if err := json.Unmarshal(env.Rule, &r); err != nil {
			return nil, fmt.Errorf("unmarshal conditional rule: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", env.Kind)
	}
}
