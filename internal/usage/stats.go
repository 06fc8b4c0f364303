package usage

// Totals is the all-up aggregate for a time window.
type Totals struct {
	Requests    int64 `json:"requests"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	TotalTokens int64 `json:"total_tokens"`
}

// DailyStat aggregates one calendar day (YYYY-MM-DD).
type DailyStat struct {
	Day      string `json:"day"`
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

// ProviderStat aggregates one upstream provider.
type ProviderStat struct {
	Provider     string `json:"provider"`
	Requests     int64  `json:"requests"`
	Succeeded    int64  `json:"succeeded"`
	Failed       int64  `json:"failed"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
}

// ModelStat aggregates one model within one provider.
type ModelStat struct {
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	Requests     int64  `json:"requests"`
	Succeeded    int64  `json:"succeeded"`
	Failed       int64  `json:"failed"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
}
