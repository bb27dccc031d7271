package execution

import (
	"context"
	"time"
)

// Repository persists executions and their results. It is the only writer
// of the execution tables.
type Repository interface {
	// Create inserts a new execution in its initial state.
	Create(ctx context.Context, exec *Execution) error
	// Get returns ErrExecutionNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Execution, error)
	// GetResult returns ErrResultNotFound unless the execution completed.
	GetResult(ctx context.Context, executionID string) (*Result, error)
	// ListPending returns up to limit pending executions, oldest first.
	ListPending(ctx context.Context, limit int) ([]*Execution, error)
	// Claim atomically moves a pending execution to running. It reports
	// false when another caller already claimed or cancelled it.
	Claim(ctx context.Context, id string, startedAt time.Time) (bool, error)
	// Finish moves a running execution to a terminal state. result must be
	// non-nil iff state is completed; it is written in the same transaction.
	// Returns ErrInvalidTransition if the execution is not running.
	Finish(ctx context.Context, id string, state State, errMsg string, result *Result, completedAt time.Time) error
	// Cancel moves a pending execution to cancelled.
	// Returns ErrInvalidTransition if it is no longer pending.
	Cancel(ctx context.Context, id string, at time.Time) error
	// ListByJourney returns every execution of a journey, newest first.
	ListByJourney(ctx context.Context, journeyID string) ([]*Execution, error)
}

// JourneyResolver looks up journeys owned by the wider platform.
type JourneyResolver interface {
	// ResolveJourney returns ErrJourneyNotFound for unknown ids.
	ResolveJourney(ctx context.Context, journeyID string) (*Journey, error)
}
