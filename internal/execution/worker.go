package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is the time between worker polls.
	DefaultPollInterval = 5 * time.Second

	// DefaultBatchSize is the most pending executions claimed per poll.
	DefaultBatchSize = 10
)

// Ticker delivers poll ticks. *time.Ticker satisfies it through
// realTicker; tests drive a manual implementation.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a ticker for the given interval.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Worker drains the pending queue on a fixed interval. Items in a batch run
// one at a time, in creation order.
type Worker struct {
	repo        Repository
	coordinator *Coordinator
	interval    time.Duration
	batchSize   int
	newTicker   TickerFactory
	logger      *logging.Logger
	now         func() time.Time

	mu      sync.Mutex
	running bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithInterval sets the poll interval. Non-positive values keep the default.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBatchSize sets how many pending executions one poll claims.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithTicker replaces the real ticker.
func WithTicker(f TickerFactory) WorkerOption {
	return func(w *Worker) {
		if f != nil {
			w.newTicker = f
		}
	}
}

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(l *logging.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWorkerClock overrides the time source used for claim timestamps.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker creates a worker that drives claimed executions through
// coordinator.
func NewWorker(repo Repository, coordinator *Coordinator, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}

	w := &Worker{
		repo:        repo,
		coordinator: coordinator,
		interval:    DefaultPollInterval,
		batchSize:   DefaultBatchSize,
		newTicker:   newRealTicker,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run polls until ctx is cancelled. It returns an error only if the worker
// is already running.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := w.newTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info(ctx, "execution worker started",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize))
	defer w.logger.Info(context.WithoutCancel(ctx), "execution worker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			w.safePoll(ctx)
		}
	}
}

// safePoll wraps PollOnce so a panic outside an item cannot end the loop.
func (w *Worker) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "worker poll panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	w.PollOnce(ctx)
}

// PollOnce claims and drives one batch of pending executions. ctx is checked
// between items; an item already started runs to completion on a context
// detached from ctx's cancellation.
func (w *Worker) PollOnce(ctx context.Context) BatchReport {
	var report BatchReport
	WorkerPollsTotal.Inc()

	if ctx.Err() != nil {
		return report
	}

	pending, err := w.repo.ListPending(ctx, w.batchSize)
	if err != nil {
		WorkerPollErrors.Inc()
		w.logger.Error(ctx, "listing pending executions failed, retrying next poll", zap.Error(err))
		return report
	}
	WorkerLastBatchSize.Set(float64(len(pending)))
	if len(pending) == 0 {
		return report
	}
	w.logger.Debug(ctx, "polled pending executions", zap.Int("count", len(pending)))

	for _, exec := range pending {
		if ctx.Err() != nil {
			w.logger.Info(ctx, "worker cancelled mid-batch", zap.Int("remaining", len(pending)-report.Attempted-report.Skipped))
			break
		}

		outcome := w.processItem(context.WithoutCancel(ctx), exec)
		switch outcome {
		case itemSkipped:
			report.Skipped++
		case itemCompleted:
			report.Attempted++
			report.Completed++
		case itemFailed:
			report.Attempted++
			report.Failed++
		}
		WorkerItemsTotal.WithLabelValues(string(outcome)).Inc()
	}

	w.logger.Info(ctx, "worker batch finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report
}

type itemOutcome string

const (
	itemCompleted itemOutcome = "completed"
	itemFailed    itemOutcome = "failed"
	itemSkipped   itemOutcome = "skipped"
)

// processItem claims and drives one execution. It never panics and never
// returns an error; failures are recorded on the execution.
func (w *Worker) processItem(ctx context.Context, exec *Execution) (outcome itemOutcome) {
	ctx = logging.WithExecution(ctx, exec.ID, exec.ProcessID)

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "worker item panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			w.recordFailure(ctx, exec, fmt.Sprintf("worker panicked: %v", r))
			outcome = itemFailed
		}
	}()

	startedAt := w.now().UTC()
	claimed, err := w.repo.Claim(ctx, exec.ID, startedAt)
	if err != nil {
		w.logger.Error(ctx, "claiming execution failed", zap.Error(err))
		return itemSkipped
	}
	if !claimed {
		w.logger.Debug(ctx, "execution claimed elsewhere, skipping")
		return itemSkipped
	}
	exec.State = StateRunning
	exec.StartedAt = &startedAt

	res, err := w.coordinator.Drive(ctx, exec)
	switch {
	case err != nil:
		w.logger.Warn(ctx, "execution failed", zap.Error(err))
		if res == nil {
			// The failure could not be recorded by the coordinator.
			w.recordFailure(ctx, exec, err.Error())
		}
		return itemFailed
	case res != nil && res.Success:
		return itemCompleted
	default:
		return itemFailed
	}
}

// recordFailure marks a running execution failed when the normal path could
// not. An execution that already reached a terminal state is left alone.
func (w *Worker) recordFailure(ctx context.Context, exec *Execution, msg string) {
	err := w.repo.Finish(ctx, exec.ID, StateFailed, w.coordinator.scrub(msg), nil, w.now().UTC())
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		w.logger.Error(ctx, "recording execution failure failed", zap.Error(err))
	}
}
