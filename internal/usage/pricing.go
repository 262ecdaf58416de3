package usage

// FallbackModel prices usage for models missing from the table.
const FallbackModel = "anthropic/claude-haiku-4-5"

// Price is USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

var pricing = map[string]Price{
	"anthropic/claude-haiku-4-5":  {Input: 0.80, Output: 4},
	"anthropic/claude-sonnet-4-5": {Input: 3, Output: 15},
	"anthropic/claude-opus-4-6":   {Input: 15, Output: 75},
}

// PriceFor returns the price for model, or the fallback model's price.
func PriceFor(model string) Price {
	if p, ok := pricing[model]; ok {
		return p
	}
	return pricing[FallbackModel]
}

// KnownModels lists the models with explicit pricing.
func KnownModels() []string {
	return []string{
		"anthropic/claude-haiku-4-5",
		"anthropic/claude-sonnet-4-5",
		"anthropic/claude-opus-4-6",
	}
}

// EstimateCost returns the USD cost of totals at model's price.
func EstimateCost(t Totals, model string) float64 {
	p := PriceFor(model)
	in := float64(t.TotalInputTokens) / 1_000_000 * p.Input
	out := float64(t.TotalOutputTokens) / 1_000_000 * p.Output
	return in + out
}
