package usage

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelPricing holds per-1K-token prices for one model.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PriceTable maps model ids to their pricing. Lookups for unknown
// models report ok=false so callers can flag the record instead of
// failing the pipeline.
type PriceTable map[string]ModelPricing

// DefaultPriceTable covers the models the service is configured to use.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"gemini-2.0-flash": {
			InputPer1K:  0.0001,
			OutputPer1K: 0.0004,
		},
		"gemini-2.0-flash-lite": {
			InputPer1K:  0.000075,
			OutputPer1K: 0.0003,
		},
		"gemini-1.5-pro": {
			InputPer1K:  0.00125,
			OutputPer1K: 0.005,
		},
	}
}

// Cost derives the dollar cost of one call. Unknown model ids cost zero
// and report ok=false.
func (t PriceTable) Cost(modelID string, inputTokens, outputTokens int) (float64, bool) {
	pricing, ok := t[modelID]
	if !ok {
		return 0, false
	}
	inputCost := float64(inputTokens) / 1000 * pricing.InputPer1K
	outputCost := float64(outputTokens) / 1000 * pricing.OutputPer1K
	return inputCost + outputCost, true
}

// LoadPriceTable reads a JSON price override file of the form
//
//	{"model-id": {"input_per_1k": 0.0001, "output_per_1k": 0.0004}}
//
// Models present in the file replace the default entry; defaults are
// kept for models the file does not mention.
func LoadPriceTable(path string) (PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price table %s: %w", path, err)
	}

	var overrides map[string]struct {
		InputPer1K  float64 `json:"input_per_1k"`
		OutputPer1K float64 `json:"output_per_1k"`
	}
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse price table %s: %w", path, err)
	}

	table := DefaultPriceTable()
	for modelID, p := range overrides {
		table[modelID] = ModelPricing{InputPer1K: p.InputPer1K, OutputPer1K: p.OutputPer1K}
	}
	return table, nil
}
