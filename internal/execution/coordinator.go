package execution

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/process"
	"github.com/fyrsmithlabs/waypoint/internal/secrets"
	"github.com/fyrsmithlabs/waypoint/internal/services"
	"github.com/fyrsmithlabs/waypoint/internal/tenant"
	"github.com/fyrsmithlabs/waypoint/internal/value"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	pathSync   = "sync"
	pathWorker = "worker"
)

var tracer = otel.Tracer("waypoint.execution")

// Coordinator validates, runs and records executions. The synchronous path
// and the background worker share the same run logic.
type Coordinator struct {
	repo     Repository
	journeys JourneyResolver
	registry *process.Registry
	services services.Registry
	scrubber *secrets.Scrubber
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l *logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithServices sets the services handle passed to processes.
func WithServices(s services.Registry) CoordinatorOption {
	return func(c *Coordinator) { c.services = s }
}

// WithScrubber redacts secrets from error messages before they are stored.
// When unset the registry's scrubber is used, if any.
func WithScrubber(s *secrets.Scrubber) CoordinatorOption {
	return func(c *Coordinator) { c.scrubber = s }
}

// WithNotifier sets where lifecycle events go.
func WithNotifier(n Notifier) CoordinatorOption {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(repo Repository, journeys JourneyResolver, registry *process.Registry, opts ...CoordinatorOption) (*Coordinator, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}
	if journeys == nil {
		return nil, fmt.Errorf("journey resolver cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("process registry cannot be nil")
	}

	c := &Coordinator{
		repo:     repo,
		journeys: journeys,
		registry: registry,
		services: services.NewRegistry(services.Options{}),
		notifier: NopNotifier{},
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.services == nil {
		c.services = services.NewRegistry(services.Options{})
	}
	if c.scrubber == nil {
		c.scrubber = c.services.Scrubber()
	}
	return c, nil
}

// Processes lists the registered process descriptors.
func (c *Coordinator) Processes() []process.Descriptor {
	return c.registry.List()
}

// Queue records a pending execution for the worker. Only the process id is
// checked here; the journey and inputs are resolved when the worker runs it.
func (c *Coordinator) Queue(ctx context.Context, processID, tenantID, journeyID string, inputs value.Map) (string, error) {
	if !c.registry.Has(processID) {
		return "", newError(ErrUnknownProcess, nil, processID, "", nil)
	}
	if err := tenant.ValidateID(tenantID); err != nil {
		return "", err
	}
	if journeyID == "" {
		return "", newError(ErrJourneyNotFound, nil, processID, "journey id is required", nil)
	}
	if inputs == nil {
		inputs = value.Map{}
	}

	exec := &Execution{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		JourneyID: journeyID,
		ProcessID: processID,
		State:     StatePending,
		Inputs:    inputs,
		QueuedAt:  c.now().UTC(),
	}
	if err := c.repo.Create(ctx, exec); err != nil {
		return "", fmt.Errorf("queueing execution: %w", err)
	}

	QueuedTotal.WithLabelValues(processID).Inc()
	c.notifier.Notify(ctx, Event{Type: EventQueued, Execution: exec})
	c.logger.Info(logging.WithExecution(ctx, exec.ID, processID), "execution queued",
		zap.String("journey.id", journeyID),
		zap.String("tenant.id", tenantID))
	return exec.ID, nil
}

// ExecuteSync runs a process for the tenant in ctx and waits for it.
//
// Unknown processes and journey resolution failures are returned before any
// execution row exists. A validation failure or a failure reported by the
// process is recorded and returned as a non-success result with a nil
// error. An error or panic from the process body is recorded and also
// returned as an *Error with code ErrProcessExecutionFailed.
func (c *Coordinator) ExecuteSync(ctx context.Context, processID, journeyID string, inputs value.Map) (*ExecutionResult, error) {
	info, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	proc, err := c.registry.New(processID)
	if err != nil {
		return nil, newError(ErrUnknownProcess, nil, processID, "", nil)
	}
	if err := c.resolveJourney(ctx, journeyID, info.TenantID); err != nil {
		return nil, journeyError(err, nil, processID, journeyID)
	}
	if inputs == nil {
		inputs = value.Map{}
	}

	now := c.now().UTC()
	exec := &Execution{
		ID:        uuid.NewString(),
		TenantID:  info.TenantID,
		JourneyID: journeyID,
		ProcessID: processID,
		State:     StateRunning,
		Inputs:    inputs,
		QueuedAt:  now,
		StartedAt: &now,
	}
	if err := c.repo.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}
	c.notifier.Notify(ctx, Event{Type: EventStarted, Execution: exec})

	return c.run(ctx, exec, proc, pathSync)
}

// Drive runs an execution that has already been claimed (moved to running).
// Resolution failures are recorded on the execution and returned.
func (c *Coordinator) Drive(ctx context.Context, exec *Execution) (*ExecutionResult, error) {
	if exec.State != StateRunning {
		return nil, newError(ErrInvalidTransition, exec, "", fmt.Sprintf("cannot drive %s execution", exec.State), nil)
	}
	c.notifier.Notify(ctx, Event{Type: EventStarted, Execution: exec})

	if err := c.resolveJourney(ctx, exec.JourneyID, exec.TenantID); err != nil {
		msg := err.Error()
		if ferr := c.fail(ctx, exec, msg); ferr != nil {
			return nil, ferr
		}
		return c.failedResult(exec, msg), journeyError(err, exec, "", exec.JourneyID)
	}
	proc, err := c.registry.New(exec.ProcessID)
	if err != nil {
		msg := err.Error()
		if ferr := c.fail(ctx, exec, msg); ferr != nil {
			return nil, ferr
		}
		return c.failedResult(exec, msg), newError(ErrUnknownProcess, exec, "", "", nil)
	}

	return c.run(ctx, exec, proc, pathWorker)
}

// run validates and executes proc, then records the terminal state.
func (c *Coordinator) run(ctx context.Context, exec *Execution, proc process.Process, path string) (*ExecutionResult, error) {
	ctx = tenant.WithTenantID(ctx, exec.TenantID)
	ctx = logging.WithJourneyID(ctx, exec.JourneyID)
	ctx = logging.WithExecution(ctx, exec.ID, exec.ProcessID)

	ctx, span := tracer.Start(ctx, "execution.run", trace.WithAttributes(
		attribute.String("execution.id", exec.ID),
		attribute.String("process.id", exec.ProcessID),
		attribute.String("execution.path", path),
	))
	defer span.End()

	if err := proc.Validate(exec.Inputs); err != nil {
		msg := c.scrub(err.Error())
		if !errors.Is(err, ErrValidationFailed) {
			msg = fmt.Sprintf("%s: %s", ErrValidationFailed, msg)
		}
		span.SetStatus(codes.Error, "validation failed")
		c.logger.Info(ctx, "execution failed validation", zap.String("error", msg))
		if ferr := c.fail(ctx, exec, msg); ferr != nil {
			return nil, ferr
		}
		return c.failedResult(exec, msg), nil
	}

	ec := &process.ExecutionContext{
		ExecutionID: exec.ID,
		ProcessID:   exec.ProcessID,
		TenantID:    exec.TenantID,
		JourneyID:   exec.JourneyID,
		Inputs:      exec.Inputs,
		Services:    c.services,
		Progress:    &progressSink{notifier: c.notifier, exec: exec},
		Logger:      c.logger.Underlying().With(logging.ContextFields(ctx)...),
	}

	start := time.Now()
	outcome, err := c.invoke(ctx, proc, ec)
	ExecutionDuration.WithLabelValues(exec.ProcessID, path).Observe(time.Since(start).Seconds())

	if err != nil {
		return c.raise(ctx, span, exec, c.scrub(err.Error()), err)
	}

	if !outcome.Success {
		msg := outcome.Error
		if msg == "" {
			msg = "process reported failure"
		}
		msg = c.scrub(msg)
		span.SetStatus(codes.Error, "process reported failure")
		c.logger.Warn(ctx, "process reported failure", zap.String("error", msg))
		if ferr := c.fail(ctx, exec, msg); ferr != nil {
			return nil, ferr
		}
		return c.failedResult(exec, msg), nil
	}

	output := outcome.Output
	if output == nil {
		output = value.Map{}
	}
	if err := checkOutcome(output, outcome.Metadata); err != nil {
		return c.raise(ctx, span, exec, err.Error(), err)
	}
	completedAt := c.now().UTC()
	result := &Result{
		ExecutionID: exec.ID,
		Output:      output,
		Metadata:    outcome.Metadata,
		CreatedAt:   completedAt,
	}
	if err := c.repo.Finish(context.WithoutCancel(ctx), exec.ID, StateCompleted, "", result, completedAt); err != nil {
		return c.raise(ctx, span, exec, c.scrub("recording completion: "+err.Error()), err)
	}
	exec.State = StateCompleted
	exec.CompletedAt = &completedAt

	ExecutionsTotal.WithLabelValues(exec.ProcessID, string(StateCompleted)).Inc()
	c.notifier.Notify(ctx, Event{Type: EventCompleted, Execution: exec})
	c.logger.Info(ctx, "execution completed", zap.Duration("duration", exec.Duration()))

	return &ExecutionResult{
		Execution: exec,
		Success:   true,
		Output:    output,
		Metadata:  outcome.Metadata,
	}, nil
}

// raise records a body failure on the row and returns it to the caller as
// ErrProcessExecutionFailed.
func (c *Coordinator) raise(ctx context.Context, span trace.Span, exec *Execution, msg string, cause error) (*ExecutionResult, error) {
	span.RecordError(errors.New(msg))
	span.SetStatus(codes.Error, "process execution failed")
	c.logger.Error(ctx, "execution failed", zap.String("error", msg))
	execErr := newError(ErrProcessExecutionFailed, exec, "", msg, cause)
	if ferr := c.fail(ctx, exec, msg); ferr != nil {
		return nil, errors.Join(execErr, ferr)
	}
	return c.failedResult(exec, msg), execErr
}

// checkOutcome rejects output the store cannot encode.
func checkOutcome(output, metadata value.Map) error {
	if err := value.CheckFinite(output); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	if err := value.CheckFinite(metadata); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}
	return nil
}

// invoke calls Execute, converting a panic into an error.
func (c *Coordinator) invoke(ctx context.Context, proc process.Process, ec *process.ExecutionContext) (outcome process.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, "process panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("process panicked: %v", r)
		}
	}()
	return proc.Execute(ctx, ec)
}

// fail records a failed terminal state. The write is detached from ctx so a
// cancelled caller still leaves an accurate row.
func (c *Coordinator) fail(ctx context.Context, exec *Execution, msg string) error {
	completedAt := c.now().UTC()
	if err := c.repo.Finish(context.WithoutCancel(ctx), exec.ID, StateFailed, msg, nil, completedAt); err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	exec.State = StateFailed
	exec.Error = msg
	exec.CompletedAt = &completedAt

	ExecutionsTotal.WithLabelValues(exec.ProcessID, string(StateFailed)).Inc()
	c.notifier.Notify(ctx, Event{Type: EventFailed, Execution: exec, Message: msg})
	return nil
}

func (c *Coordinator) failedResult(exec *Execution, msg string) *ExecutionResult {
	return &ExecutionResult{Execution: exec, Success: false, Error: msg}
}

func (c *Coordinator) scrub(msg string) string {
	return c.scrubber.Scrub(msg)
}

// resolveJourney returns ErrJourneyNotFound or ErrAccessDenied.
func (c *Coordinator) resolveJourney(ctx context.Context, journeyID, tenantID string) error {
	if journeyID == "" {
		return ErrJourneyNotFound
	}
	j, err := c.journeys.ResolveJourney(ctx, journeyID)
	if err != nil {
		if errors.Is(err, ErrJourneyNotFound) {
			return ErrJourneyNotFound
		}
		return fmt.Errorf("resolving journey: %w", err)
	}
	if j.TenantID != tenantID {
		return ErrAccessDenied
	}
	return nil
}

// journeyError wraps resolution sentinels in an *Error and passes other
// failures through.
func journeyError(err error, exec *Execution, processID, journeyID string) error {
	if errors.Is(err, ErrJourneyNotFound) || errors.Is(err, ErrAccessDenied) {
		return newError(err, exec, processID, "journey "+journeyID, nil)
	}
	return err
}

// authorize checks the execution belongs to the tenant in ctx, when ctx
// carries one. Operator paths without a tenant see everything.
func (c *Coordinator) authorize(ctx context.Context, exec *Execution) error {
	if id := tenant.IDFromContext(ctx); id != "" && id != exec.TenantID {
		return newError(ErrAccessDenied, exec, "", "", nil)
	}
	return nil
}

// Get returns one execution.
func (c *Coordinator) Get(ctx context.Context, id string) (*Execution, error) {
	exec, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// GetResult returns the result of a completed execution.
func (c *Coordinator) GetResult(ctx context.Context, id string) (*Result, error) {
	if _, err := c.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.repo.GetResult(ctx, id)
}

// GetHistory returns every execution of a journey, newest first.
func (c *Coordinator) GetHistory(ctx context.Context, journeyID string) ([]*Execution, error) {
	if id := tenant.IDFromContext(ctx); id != "" {
		if err := c.resolveJourney(ctx, journeyID, id); err != nil {
			return nil, err
		}
	}
	return c.repo.ListByJourney(ctx, journeyID)
}

// Cancel cancels a pending execution. Running executions are not
// interrupted and return ErrInvalidTransition.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	exec, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	at := c.now().UTC()
	if err := c.repo.Cancel(ctx, id, at); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return newError(ErrInvalidTransition, exec, "", fmt.Sprintf("execution is %s", exec.State), nil)
		}
		return err
	}
	exec.State = StateCancelled
	exec.CompletedAt = &at

	ExecutionsTotal.WithLabelValues(exec.ProcessID, string(StateCancelled)).Inc()
	c.notifier.Notify(ctx, Event{Type: EventCancelled, Execution: exec})
	c.logger.Info(logging.WithExecution(ctx, exec.ID, exec.ProcessID), "execution cancelled")
	return nil
}
