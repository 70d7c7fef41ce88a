package domain

// UsageSummary aggregates model token consumption and derived cost
// across all sections processed for one job.
type UsageSummary struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Sections     int     `json:"sections"`
}
