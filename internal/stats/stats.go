package stats

// Summary holds latency percentiles in milliseconds, derived from a
// SafeHistogram once a run finishes.
type Summary struct {
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	MaxMs float64 `json:"max_ms"`
}

// Summarize flattens a histogram into its reportable percentiles. Returns
// nil when nothing was recorded.
func Summarize(h *SafeHistogram) *Summary {
	if h == nil || h.TotalCount() == 0 {
		return nil
	}
	return &Summary{
		P50Ms: float64(h.ValueAtQuantile(50)) / 1000.0,
		P95Ms: float64(h.ValueAtQuantile(95)) / 1000.0,
		P99Ms: float64(h.ValueAtQuantile(99)) / 1000.0,
		MaxMs: float64(h.Max()) / 1000.0,
	}
}
