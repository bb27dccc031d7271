// Package execution runs registered processes against journeys, either
// synchronously for the caller or from a durable queue drained by a
// background worker.
package execution

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/value"
)

// State is the lifecycle state of an execution.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	StatePending:   {StateRunning, StateCancelled},
	StateRunning:   {StateCompleted, StateFailed, StateCancelled},
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// CanTransitionTo reports whether s may move to target.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s can never be left.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ParseState converts a stored state string.
func ParseState(s string) (State, error) {
	st := State(s)
	if _, ok := ValidTransitions[st]; !ok {
		return "", fmt.Errorf("unknown execution state %q", s)
	}
	return st, nil
}

// Execution is one run of one process for one tenant within one journey.
type Execution struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	JourneyID   string     `json:"journey_id"`
	ProcessID   string     `json:"process_id"`
	State       State      `json:"state"`
	Inputs      value.Map  `json:"inputs"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns how long the execution ran, or zero if it has not
// finished.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(*e.StartedAt)
}

// Result is the output of a completed execution. Exactly one exists per
// completed execution and none for any other state.
type Result struct {
	ExecutionID string    `json:"execution_id"`
	Output      value.Map `json:"output"`
	Metadata    value.Map `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExecutionResult is returned by the synchronous path.
type ExecutionResult struct {
	Execution *Execution `json:"execution"`
	Success   bool       `json:"success"`
	Output    value.Map  `json:"output,omitempty"`
	Metadata  value.Map  `json:"metadata,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Journey is the scope an execution runs in. Journeys are owned elsewhere;
// only the tenant binding matters here.
type Journey struct {
	ID       string
	TenantID string
}

// BatchReport summarizes one worker poll.
type BatchReport struct {
	Attempted int
	Completed int
	Failed    int
	Skipped   int
}
