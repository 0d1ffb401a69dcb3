package monitor

import "time"

// StepMetrics describes one step of a search or reconcile run.
type StepMetrics struct {
	Op       string        `json:"op"`
	Step     string        `json:"step"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// RunMetrics describes a finished search or reconcile run.
type RunMetrics struct {
	Op       string        `json:"op"`
	Duration time.Duration `json:"duration"`
	Degraded bool          `json:"degraded"`
	Items    int           `json:"items"`
	Errors   int           `json:"errors"`
}

type StepSummary struct {
	Count        int     `json:"count"`
	Failures     int     `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	LastError    string  `json:"last_error,omitempty"`
}

type RunSummary struct {
	Count        int     `json:"count"`
	Degraded     int     `json:"degraded"`
	Items        int     `json:"items"`
	Errors       int     `json:"errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Summary is the aggregate served by /metrics/summary.
type Summary struct {
	Since time.Time              `json:"since"`
	Runs  map[string]RunSummary  `json:"runs"`
	Steps map[string]StepSummary `json:"steps"`
}
