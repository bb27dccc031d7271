package execution_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/execution"
	"github.com/fyrsmithlabs/waypoint/internal/logging"
	"github.com/fyrsmithlabs/waypoint/internal/process"
	"github.com/fyrsmithlabs/waypoint/internal/store"
	"github.com/fyrsmithlabs/waypoint/internal/tenant"
	"github.com/fyrsmithlabs/waypoint/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcProcess is a process assembled from closures.
type funcProcess struct {
	id       string
	validate func(value.Map) error
	execute  func(context.Context, *process.ExecutionContext) (process.Outcome, error)
}

func (p *funcProcess) Descriptor() process.Descriptor {
	return process.Descriptor{ID: p.id, Name: p.id, Category: process.CategoryAnalysis}
}

func (p *funcProcess) Validate(inputs value.Map) error {
	if p.validate == nil {
		return nil
	}
	return p.validate(inputs)
}

func (p *funcProcess) Execute(ctx context.Context, ec *process.ExecutionContext) (process.Outcome, error) {
	return p.execute(ctx, ec)
}

var errBoom = errors.New("boom")

func testRegistry(t *testing.T, extra ...*funcProcess) *process.Registry {
	t.Helper()
	procs := []*funcProcess{
		{
			id: "echo",
			validate: process.InputSchema{
				{Name: "text", Kind: value.KindString, Required: true},
			}.Validate,
			execute: func(ctx context.Context, ec *process.ExecutionContext) (process.Outcome, error) {
				ec.Report(ctx, 50, "halfway")
				text, _ := ec.Inputs.String("text")
				return process.Succeeded(
					value.Map{"text": value.String(text), "tenant": value.String(ec.TenantID)},
					value.Map{"journey": value.String(ec.JourneyID)},
				), nil
			},
		},
		{
			id: "reports-failure",
			execute: func(context.Context, *process.ExecutionContext) (process.Outcome, error) {
				return process.Failed("nothing to analyze"), nil
			},
		},
		{
			id: "errors",
			execute: func(context.Context, *process.ExecutionContext) (process.Outcome, error) {
				return process.Outcome{}, errBoom
			},
		},
		{
			id: "panics",
			execute: func(context.Context, *process.ExecutionContext) (process.Outcome, error) {
				panic("unexpected nil")
			},
		},
	}
	procs = append(procs, extra...)

	r := process.NewRegistry()
	for _, p := range procs {
		p := p
		require.NoError(t, r.Register(func() process.Process {
			cp := *p
			return &cp
		}))
	}
	return r
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []execution.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev execution.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []execution.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]execution.EventType, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	store       *store.Store
	coordinator *execution.Coordinator
	notifier    *recordingNotifier
}

func newHarness(t *testing.T, extra ...*funcProcess) *harness {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, store.Config{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "waypoint.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.CreateJourney(ctx, "journey-a", "acme", "Onboarding"))
	require.NoError(t, s.CreateJourney(ctx, "journey-b", "globex", "Renewals"))

	n := &recordingNotifier{}
	c, err := execution.NewCoordinator(s, s, testRegistry(t, extra...),
		execution.WithNotifier(n),
		execution.WithLogger(logging.NewNop()))
	require.NoError(t, err)

	return &harness{store: s, coordinator: c, notifier: n}
}

func acme() context.Context {
	return tenant.WithTenantID(context.Background(), "acme")
}

func TestNewCoordinator_RequiresDependencies(t *testing.T) {
	_, err := execution.NewCoordinator(nil, nil, nil)
	require.Error(t, err)
}

func TestExecuteSync_UnknownProcessCreatesNoRow(t *testing.T) {
	h := newHarness(t)
	ctx := acme()

	res, err := h.coordinator.ExecuteSync(ctx, "unregistered-id", "journey-a", value.Map{})
	require.ErrorIs(t, err, execution.ErrUnknownProcess)
	assert.Nil(t, res)

	var execErr *execution.Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "unregistered-id", execErr.ProcessID)

	history, err := h.coordinator.GetHistory(ctx, "journey-a")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, h.notifier.types())
}

func TestExecuteSync_RequiresTenant(t *testing.T) {
	h := newHarness(t)
	_, err := h.coordinator.ExecuteSync(context.Background(), "echo", "journey-a", nil)
	require.ErrorIs(t, err, tenant.ErrMissingTenant)
}

func TestExecuteSync_JourneyResolution(t *testing.T) {
	h := newHarness(t)
	ctx := acme()

	_, err := h.coordinator.ExecuteSync(ctx, "echo", "missing", value.Map{"text": value.String("x")})
	require.ErrorIs(t, err, execution.ErrJourneyNotFound)

	_, err = h.coordinator.ExecuteSync(ctx, "echo", "journey-b", value.Map{"text": value.String("x")})
	require.ErrorIs(t, err, execution.ErrAccessDenied)

	history, err := h.store.ListByJourney(ctx, "journey-b")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExecuteSync_Success(t *testing.T) {
	h := newHarness(t)
	ctx := acme()

	res, err := h.coordinator.ExecuteSync(ctx, "echo", "journey-a", value.Map{"text": value.String("hello")})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, value.String("hello"), res.Output["text"])
	assert.Equal(t, value.String("acme"), res.Output["tenant"])
	assert.Equal(t, value.String("journey-a"), res.Metadata["journey"])

	exec, err := h.coordinator.Get(ctx, res.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StateCompleted, exec.State)
	assert.Equal(t, "acme", exec.TenantID)
	require.NotNil(t, exec.StartedAt)
	require.NotNil(t, exec.CompletedAt)
	assert.Empty(t, exec.Error)

	result, err := h.coordinator.GetResult(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, value.String("hello"), result.Output["text"])

	assert.Equal(t, []execution.EventType{
		execution.EventStarted,
		execution.EventProgress,
		execution.EventCompleted,
	}, h.notifier.types())
}

func TestExecuteSync_HandledFailures(t *testing.T) {
	tests := []struct {
		name      string
		processID string
		inputs    value.Map
		wantMsg   string
	}{
		{"validation failure", "echo", value.Map{}, "validation failed"},
		{"process reported failure", "reports-failure", nil, "nothing to analyze"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := acme()

			res, err := h.coordinator.ExecuteSync(ctx, tt.processID, "journey-a", tt.inputs)
			require.NoError(t, err)
			require.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantMsg)

			exec, err := h.coordinator.Get(ctx, res.Execution.ID)
			require.NoError(t, err)
			assert.Equal(t, execution.StateFailed, exec.State)
			assert.Contains(t, exec.Error, tt.wantMsg)

			_, err = h.coordinator.GetResult(ctx, exec.ID)
			require.ErrorIs(t, err, execution.ErrResultNotFound)
		})
	}
}

func TestExecuteSync_BodyErrorsAreRecordedAndRaised(t *testing.T) {
	tests := []struct {
		processID string
		wantMsg   string
		wantCause error
	}{
		{"errors", "boom", errBoom},
		{"panics", "process panicked: unexpected nil", nil},
	}

	for _, tt := range tests {
		t.Run(tt.processID, func(t *testing.T) {
			h := newHarness(t)
			ctx := acme()

			res, err := h.coordinator.ExecuteSync(ctx, tt.processID, "journey-a", nil)
			require.ErrorIs(t, err, execution.ErrProcessExecutionFailed)
			if tt.wantCause != nil {
				require.ErrorIs(t, err, tt.wantCause)
			}
			require.NotNil(t, res)
			assert.False(t, res.Success)

			var execErr *execution.Error
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, res.Execution.ID, execErr.ExecutionID)

			exec, err := h.store.Get(ctx, res.Execution.ID)
			require.NoError(t, err)
			assert.Equal(t, execution.StateFailed, exec.State)
			assert.Contains(t, exec.Error, tt.wantMsg)
			assert.Contains(t, h.notifier.types(), execution.EventFailed)
		})
	}
}

func nanProcess() *funcProcess {
	return &funcProcess{
		id: "nan",
		execute: func(context.Context, *process.ExecutionContext) (process.Outcome, error) {
			return process.Succeeded(value.Map{"score": value.Number(math.NaN())}, nil), nil
		},
	}
}

func TestExecuteSync_NonFiniteOutputFailsExecution(t *testing.T) {
	h := newHarness(t, nanProcess())
	ctx := acme()

	res, err := h.coordinator.ExecuteSync(ctx, "nan", "journey-a", nil)
	require.ErrorIs(t, err, execution.ErrProcessExecutionFailed)
	require.ErrorIs(t, err, value.ErrNonFinite)
	require.NotNil(t, res)
	assert.False(t, res.Success)

	exec, err := h.store.Get(ctx, res.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StateFailed, exec.State)
	assert.Contains(t, exec.Error, "invalid output")
	_, err = h.store.GetResult(ctx, exec.ID)
	require.ErrorIs(t, err, execution.ErrResultNotFound)
}

// completionFails rejects every write of a completed state.
type completionFails struct {
	execution.Repository
}

var errDiskFull = errors.New("disk full")

func (r completionFails) Finish(ctx context.Context, id string, state execution.State, msg string, result *execution.Result, at time.Time) error {
	if state == execution.StateCompleted {
		return errDiskFull
	}
	return r.Repository.Finish(ctx, id, state, msg, result, at)
}

func TestExecuteSync_CompletionWriteFailureRecordsFailure(t *testing.T) {
	h := newHarness(t)
	ctx := acme()

	c, err := execution.NewCoordinator(completionFails{h.store}, h.store, testRegistry(t),
		execution.WithLogger(logging.NewNop()))
	require.NoError(t, err)

	res, err := c.ExecuteSync(ctx, "echo", "journey-a", value.Map{"text": value.String("hi")})
	require.ErrorIs(t, err, execution.ErrProcessExecutionFailed)
	require.ErrorIs(t, err, errDiskFull)
	require.NotNil(t, res)

	exec, err := h.store.Get(ctx, res.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.StateFailed, exec.State)
	assert.Contains(t, exec.Error, "recording completion: disk full")
}

func TestQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coordinator.Queue(ctx, "unregistered-id", "acme", "journey-a", nil)
	require.ErrorIs(t, err, execution.ErrUnknownProcess)

	_, err = h.coordinator.Queue(ctx, "echo", "", "journey-a", nil)
	require.ErrorIs(t, err, tenant.ErrInvalidTenantID)

	id, err := h.coordinator.Queue(ctx, "echo", "acme", "journey-a", value.Map{"text": value.String("later")})
	require.NoError(t, err)

	exec, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, execution.StatePending, exec.State)
	assert.Nil(t, exec.StartedAt)
	assert.Equal(t, value.String("later"), exec.Inputs["text"])

	pending, err := h.store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []execution.EventType{execution.EventQueued}, h.notifier.types())
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := acme()

	id, err := h.coordinator.Queue(ctx, "echo", "acme", "journey-a", value.Map{"text": value.String("x")})
	require.NoError(t, err)

	other := tenant.WithTenantID(context.Background(), "globex")
	require.ErrorIs(t, h.coordinator.Cancel(other, id), execution.ErrAccessDenied)

	require.NoError(t, h.coordinator.Cancel(ctx, id))
	exec, err := h.coordinator.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, execution.StateCancelled, exec.State)

	require.ErrorIs(t, h.coordinator.Cancel(ctx, id), execution.ErrInvalidTransition)
	require.ErrorIs(t, h.coordinator.Cancel(ctx, "missing"), execution.ErrExecutionNotFound)
}

func TestGetHistory(t *testing.T) {
	h := newHarness(t)
	ctx := acme()

	first, err := h.coordinator.ExecuteSync(ctx, "echo", "journey-a", value.Map{"text": value.String("1")})
	require.NoError(t, err)
	second, err := h.coordinator.ExecuteSync(ctx, "reports-failure", "journey-a", nil)
	require.NoError(t, err)

	history, err := h.coordinator.GetHistory(ctx, "journey-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.Execution.ID, history[0].ID)
	assert.Equal(t, first.Execution.ID, history[1].ID)

	other := tenant.WithTenantID(context.Background(), "globex")
	_, err = h.coordinator.GetHistory(other, "journey-a")
	require.ErrorIs(t, err, execution.ErrAccessDenied)

	_, err = h.coordinator.Get(other, first.Execution.ID)
	require.ErrorIs(t, err, execution.ErrAccessDenied)
}

func TestDrive_RequiresRunning(t *testing.T) {
	h := newHarness(t)
	_, err := h.coordinator.Drive(context.Background(), &execution.Execution{ID: "x", State: execution.StatePending})
	require.ErrorIs(t, err, execution.ErrInvalidTransition)
}

func TestProcesses(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for _, d := range h.coordinator.Processes() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"echo", "errors", "panics", "reports-failure"}, ids)
}
