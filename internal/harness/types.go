package harness

import "github.com/soa-bra/glass-project-flow-sub021/internal/board"

// Trace event kinds.
const (
	TraceLocal   = "local"
	TraceDeliver = "deliver"
)

// Delivery and local outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeSkipped  = "skipped"
	OutcomeStale    = "stale"
	OutcomeBuffered = "buffered"
)

// TraceEvent is one local edit or one delivery, in execution order.
type TraceEvent struct {
	Seq     int64    `json:"seq"`
	Kind    string   `json:"kind"`
	Replica string   `json:"replica"`
	From    string   `json:"from,omitempty"`
	Action  string   `json:"action,omitempty"`
	OpIDs   []string `json:"opIds,omitempty"`
	Outcome string   `json:"outcome"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success.
	// True if every step met its expectation and every assertion held.
	Pass bool `json:"pass"`

	// Orders is the number of delivery permutations executed.
	Orders int `json:"orders"`

	// Digest is the first replica's state digest in the first order.
	Digest string `json:"digest"`

	// Elements is the first replica's final snapshot in the first order.
	Elements []board.Element `json:"elements"`

	// Trace records the first order's local edits and deliveries.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
