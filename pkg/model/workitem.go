// Package model defines the durable domain types shared across animus:
// work items, ledger entries, queue messages, faculty configuration, and
// the LLM/tool contract types consumed by the engage loop.
package model

import "time"

// State is a work item's position in its lifecycle.
type State string

const (
	StateCreated   State = "created"
	StateQueued    State = "queued"
	StateClaimed   State = "claimed"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDead      State = "dead"
	StateMerged    State = "merged"
)

// Terminal reports whether the state is final; once reached a work item
// is immutable.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateDead, StateMerged:
		return true
	default:
		return false
	}
}

// transitions is the closed set of valid state-machine edges.
var transitions = map[State]map[State]bool{
	StateCreated: {StateQueued: true, StateMerged: true},
	StateQueued:  {StateClaimed: true, StateDead: true},
	StateClaimed: {StateRunning: true, StateQueued: true},
	StateRunning: {StateCompleted: true, StateFailed: true},
	StateFailed:  {StateQueued: true, StateDead: true},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Provenance records where a submission originated.
type Provenance struct {
	Source  string `json:"source"`
	Trigger string `json:"trigger"`
}

// WorkItem is one unit of work routed to a faculty.
type WorkItem struct {
	ID        string         `json:"id"`
	Faculty   string         `json:"faculty"`
	Skill     string         `json:"skill,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	DedupKey  string         `json:"dedup_key,omitempty"`
	Provenance Provenance    `json:"provenance"`
	Priority  int            `json:"priority"`
	State     State          `json:"state"`

	ParentID   string `json:"parent_id,omitempty"`
	MergedInto string `json:"merged_into,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	OutcomeData  string `json:"outcome_data,omitempty"`
	OutcomeError string `json:"outcome_error,omitempty"`
	OutcomeMs    int64  `json:"outcome_ms,omitempty"`

	QueueMessageID string `json:"queue_message_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns a deep-enough copy safe for callers to mutate without
// affecting the store's own copy (used by the in-memory store).
func (w *WorkItem) Clone() *WorkItem {
	cp := *w
	if w.Params != nil {
		cp.Params = make(map[string]any, len(w.Params))
		for k, v := range w.Params {
			cp.Params[k] = v
		}
	}
	if w.ResolvedAt != nil {
		t := *w.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Outcome is what a focus's Consolidate phase writes back through the store.
type Outcome struct {
	Data     string
	Error    string
	Duration time.Duration
}
