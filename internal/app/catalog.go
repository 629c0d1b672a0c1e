package app

import (
	"github.com/shopspring/decimal"

	"github.com/genforge/server/internal/module/generation"
	"github.com/genforge/server/internal/module/pricing"
)

// builtinModels is the shipped model catalog. Prices are the provider's
// per-call costs before margin; the converter applies margin and rounding.
func builtinModels() []*generation.ModelSpec {
	return []*generation.ModelSpec{
		{
			Name:     "flux-schnell",
			Sync:     true,
			MaxUnits: 4,
			Rule:     pricing.FixedRule{Price: decimal.NewFromFloat(0.003)},
		},
		{
			Name:     "flux-dev",
			Sync:     true,
			MaxUnits: 4,
			Rule:     pricing.FixedRule{Price: decimal.NewFromFloat(0.025)},
		},
		{
			Name: "flux-pro",
			Rule: pricing.ConditionalRule{
				Cases: []pricing.ConditionalCase{
					{
						Conditions: map[string]any{"resolution": "4k"},
						Price:      decimal.NewFromFloat(0.12),
					},
					{
						Conditions: map[string]any{},
						Price:      decimal.NewFromFloat(0.055),
					},
				},
			},
		},
		{
			Name: "wan-video",
			Rule: pricing.PerUnitRule{
				Parameter: "resolution",
				Rates: []pricing.Rate{
					{Value: "480p", Price: decimal.NewFromFloat(0.045)},
					{Value: "720p", Price: decimal.NewFromFloat(0.09)},
					{Value: "1080p", Price: decimal.NewFromFloat(0.18)},
				},
			},
		},
		{
			Name: "minimax-speech",
			Rule: pricing.PerUnitRule{
				Parameter: "voice_tier",
				Rates: []pricing.Rate{
					{Value: "standard", Price: decimal.NewFromFloat(0.01)},
					{Value: "premium", Price: decimal.NewFromFloat(0.03)},
				},
			},
		},
	}
}

// buildCatalog registers the built-in models, restricted to the configured
// allow list when one is set.
func buildCatalog(monitored []string) *generation.Catalog {
	allow := make(map[string]bool, len(monitored))
	for _, name := range monitored {
		allow[name] = true
	}

	catalog := generation.NewCatalog()
	for _, spec := range builtinModels() {
		if len(allow) > 0 && !allow[spec.Name] {
			continue
		}
		catalog.Register(spec)
	}
	return catalog
}
