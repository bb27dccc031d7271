// Package process defines the contract analytical processes implement and
// the registry the execution engine resolves them from.
package process

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/waypoint/internal/services"
	"github.com/fyrsmithlabs/waypoint/internal/value"
	"go.uber.org/zap"
)

var (
	// ErrUnknownProcess is returned for ids with no registered factory.
	ErrUnknownProcess = errors.New("unknown process")

	// ErrValidationFailed is returned when inputs do not satisfy a
	// process's schema or custom checks.
	ErrValidationFailed = errors.New("validation failed")
)

// Category groups processes for listing.
type Category string

const (
	CategoryEmbedding Category = "embedding"
	CategorySearch    Category = "search"
	CategoryAnalysis  Category = "analysis"
)

// Descriptor describes a process to operators and callers.
type Descriptor struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Category    Category    `json:"category"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Outcome is what a process body returns on normal completion. A
// non-success outcome is a handled failure: the execution fails without an
// error being raised to the caller.
type Outcome struct {
	Success  bool
	Output   value.Map
	Metadata value.Map
	Error    string
}

// Succeeded returns a successful outcome.
func Succeeded(output, metadata value.Map) Outcome {
	return Outcome{Success: true, Output: output, Metadata: metadata}
}

// Failed returns a handled failure.
func Failed(msg string) Outcome {
	return Outcome{Error: msg}
}

// ProgressSink receives progress updates from a running process.
type ProgressSink interface {
	Report(ctx context.Context, percent int, message string)
}

// ExecutionContext is everything a process body may use.
type ExecutionContext struct {
	ExecutionID string
	ProcessID   string
	TenantID    string
	JourneyID   string
	Inputs      value.Map
	Services    services.Registry
	Progress    ProgressSink
	Logger      *zap.Logger
}

// Report forwards progress if a sink is attached. percent is clamped to
// [0, 100].
func (ec *ExecutionContext) Report(ctx context.Context, percent int, message string) {
	if ec == nil || ec.Progress == nil {
		return
	}
	percent = max(0, min(100, percent))
	ec.Progress.Report(ctx, percent, message)
}

// Log returns the context logger or a nop logger.
func (ec *ExecutionContext) Log() *zap.Logger {
	if ec == nil || ec.Logger == nil {
		return zap.NewNop()
	}
	return ec.Logger
}

// Process is one analytical operation. Implementations must be safe to
// construct per execution; the registry builds a fresh instance each time.
type Process interface {
	Descriptor() Descriptor
	// Validate checks inputs before Execute. Returning an error fails the
	// execution with a validation message.
	Validate(inputs value.Map) error
	// Execute runs the body. ctx carries cancellation. A returned error
	// (or a panic) fails the execution and is surfaced to the caller.
	Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error)
}
