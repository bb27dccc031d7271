package execution

import (
	"context"

	"github.com/fyrsmithlabs/waypoint/internal/process"
)

// EventType names an execution lifecycle event.
type EventType string

const (
	EventQueued    EventType = "queued"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType
	Execution *Execution
	Percent   int
	Message   string
}

// Notifier receives lifecycle events. Implementations must not block for
// long and must never fail the execution; delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// progressSink turns process progress reports into progress events.
type progressSink struct {
	notifier Notifier
	exec     *Execution
}

var _ process.ProgressSink = (*progressSink)(nil)

func (s *progressSink) Report(ctx context.Context, percent int, message string) {
	s.notifier.Notify(ctx, Event{
		Type:      EventProgress,
		Execution: s.exec,
		Percent:   percent,
		Message:   message,
	})
}
