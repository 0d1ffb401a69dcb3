package search

import "github.com/hubenschmidt/go-visearch/core"

// State is a stage of a single search run.
type State int

const (
	Idle State = iota
	HealthChecking
	Embedding
	Querying
	Resolving
	Done
	Fallback
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HealthChecking:
		return "health_checking"
	case Embedding:
		return "embedding"
	case Querying:
		return "querying"
	case Resolving:
		return "resolving"
	case Done:
		return "done"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Match is a catalog product with its similarity score.
// Fallback matches carry a score of 0.
type Match struct {
	Product core.Product `json:"product"`
	Score   float64      `json:"score"`
}

// Result is the outcome of a search. When Degraded is set, Matches holds
// arbitrary catalog products, Reason the triggering error and FailedAt the
// state that failed.
type Result struct {
	Matches  []Match `json:"matches"`
	Degraded bool    `json:"degraded"`
	Reason   string  `json:"reason,omitempty"`
	FailedAt string  `json:"failed_at,omitempty"`
}
