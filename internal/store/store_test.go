package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/execution"
	"github.com/fyrsmithlabs/waypoint/internal/value"
	"github.com/fyrsmithlabs/waypoint/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "waypoint.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newExecution(id, journeyID string, queuedAt time.Time) *execution.Execution {
	return &execution.Execution{
		ID:        id,
		TenantID:  "acme",
		JourneyID: journeyID,
		ProcessID: "semantic-search",
		State:     execution.StatePending,
		Inputs:    value.Map{"query": value.String("hello"), "limit": value.Number(3)},
		QueuedAt:  queuedAt,
	}
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "waypoint.db")

	s1, err := Open(ctx, Config{Driver: DriverSQLite, DSN: path}, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, Config{Driver: DriverSQLite, DSN: path}, nil)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
	require.NoError(t, s2.Ping(ctx))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestRebind(t *testing.T) {
	s := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", s.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	s.driver = DriverSQLite
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}

func TestJourneys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateJourney(ctx, "j-1", "acme", "onboarding"))
	j, err := s.ResolveJourney(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", j.TenantID)

	_, err = s.ResolveJourney(ctx, "missing")
	require.ErrorIs(t, err, execution.ErrJourneyNotFound)

	require.Error(t, s.CreateJourney(ctx, "j-1", "acme", "again"))
	require.Error(t, s.CreateJourney(ctx, "j-2", "", "no tenant"))
}

func TestExecutions_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, newExecution("e-1", "j-1", base)))

	got, err := s.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatePending, got.State)
	assert.Equal(t, base, got.QueuedAt)
	assert.Nil(t, got.StartedAt)
	q, ok := got.Inputs.String("query")
	require.True(t, ok)
	assert.Equal(t, "hello", q)

	claimed, err := s.Claim(ctx, "e-1", base.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.Claim(ctx, "e-1", base.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	_, err = s.GetResult(ctx, "e-1")
	require.ErrorIs(t, err, execution.ErrResultNotFound)

	result := &execution.Result{
		ExecutionID: "e-1",
		Output:      value.Map{"hits": value.List{value.String("seg-1")}},
		Metadata:    value.Map{"model": value.String("bge-small")},
	}
	require.NoError(t, s.Finish(ctx, "e-1", execution.StateCompleted, "", result, base.Add(3*time.Second)))

	got, err = s.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, execution.StateCompleted, got.State)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 2*time.Second, got.Duration())

	res, err := s.GetResult(ctx, "e-1")
	require.NoError(t, err)
	hits, ok := res.Output.List("hits")
	require.True(t, ok)
	assert.Len(t, hits, 1)
	assert.Equal(t, base.Add(3*time.Second), res.CreatedAt)

	err = s.Finish(ctx, "e-1", execution.StateFailed, "late", nil, base.Add(4*time.Second))
	require.ErrorIs(t, err, execution.ErrInvalidTransition)
}

func TestExecutions_FinishValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.Create(ctx, newExecution("e-1", "j-1", now)))

	err := s.Finish(ctx, "e-1", execution.StateFailed, "boom", nil, now)
	require.ErrorIs(t, err, execution.ErrInvalidTransition, "pending cannot finish")

	err = s.Finish(ctx, "missing", execution.StateFailed, "boom", nil, now)
	require.ErrorIs(t, err, execution.ErrExecutionNotFound)

	_, err = s.Claim(ctx, "e-1", now)
	require.NoError(t, err)

	require.Error(t, s.Finish(ctx, "e-1", execution.StateCompleted, "", nil, now), "completed needs a result")
	require.Error(t, s.Finish(ctx, "e-1", execution.StateFailed, "x", &execution.Result{}, now), "failed has no result")
	require.ErrorIs(t, s.Finish(ctx, "e-1", execution.StatePending, "", nil, now), execution.ErrInvalidTransition)

	require.NoError(t, s.Finish(ctx, "e-1", execution.StateFailed, "boom", nil, now))
	got, err := s.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "boom", got.Error)

	_, err = s.GetResult(ctx, "e-1")
	require.ErrorIs(t, err, execution.ErrResultNotFound)
}

func TestExecutions_Cancel(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.Create(ctx, newExecution("e-1", "j-1", now)))
	require.NoError(t, s.Cancel(ctx, "e-1", now))

	got, err := s.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, execution.StateCancelled, got.State)

	claimed, err := s.Claim(ctx, "e-1", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.ErrorIs(t, s.Cancel(ctx, "e-1", now), execution.ErrInvalidTransition)
	require.ErrorIs(t, s.Cancel(ctx, "missing", now), execution.ErrExecutionNotFound)
}

func TestExecutions_CreateRejectsTerminalState(t *testing.T) {
	s := openTestStore(t)
	e := newExecution("e-1", "j-1", time.Now())
	e.State = execution.StateCompleted
	require.ErrorIs(t, s.Create(context.Background(), e), execution.ErrInvalidTransition)
}

func TestExecutions_Listing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"e-1", "e-2", "e-3", "e-4"} {
		require.NoError(t, s.Create(ctx, newExecution(id, "j-1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.Create(ctx, newExecution("other", "j-2", base)))

	_, err := s.Claim(ctx, "e-2", base)
	require.NoError(t, err)

	pending, err := s.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e-1", pending[0].ID)
	assert.Equal(t, "e-3", pending[1].ID)

	history, err := s.ListByJourney(ctx, "j-1")
	require.NoError(t, err)
	ids := make([]string, len(history))
	for i, e := range history {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"e-4", "e-3", "e-2", "e-1"}, ids)

	history, err = s.ListByJourney(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExecutions_ConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Create(ctx, newExecution("e-1", "j-1", time.Now())))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, "e-1", time.Now())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestIndexRepository(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	rec := &vectorstore.IndexRecord{
		IndexID: "i-1", TenantID: "acme", SegmentID: "seg-1", JourneyID: "j-1",
		Model: "bge-small", Dimension: 384, CreatedAt: now,
	}
	require.NoError(t, s.InsertIndex(ctx, rec))

	dup := *rec
	dup.IndexID = "i-2"
	require.ErrorIs(t, s.InsertIndex(ctx, &dup), vectorstore.ErrDuplicateEmbedding)

	other := *rec
	other.IndexID = "i-3"
	other.Model = "bge-base"
	other.Dimension = 768
	require.NoError(t, s.InsertIndex(ctx, &other))

	found, err := s.FindIndex(ctx, "acme", "seg-1", "bge-small")
	require.NoError(t, err)
	assert.Equal(t, "i-1", found.IndexID)
	assert.Equal(t, now, found.CreatedAt)

	_, err = s.FindIndex(ctx, "globex", "seg-1", "bge-small")
	require.ErrorIs(t, err, vectorstore.ErrIndexNotFound)

	found.JourneyID = "j-2"
	require.NoError(t, s.ReplaceIndex(ctx, found))
	missing := *found
	missing.IndexID = "nope"
	require.ErrorIs(t, s.ReplaceIndex(ctx, &missing), vectorstore.ErrIndexNotFound)

	got, err := s.GetIndexes(ctx, []string{"i-1", "i-3", "unknown"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "j-2", got["i-1"].JourneyID)
	assert.Equal(t, 768, got["i-3"].Dimension)

	empty, err := s.GetIndexes(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	deleted, err := s.DeleteSegmentIndexes(ctx, "seg-1")
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	got, err = s.GetIndexes(ctx, []string{"i-1", "i-3"})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.DeleteIndex(ctx, "never-existed"))
}

func TestStoreBacksVectorStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	backend, err := vectorstore.NewChromemBackend(vectorstore.ChromemOptions{}, nil)
	require.NoError(t, err)
	shards, err := vectorstore.NewShards([]int{3})
	require.NoError(t, err)
	vs, err := vectorstore.NewStore(backend, s, shards)
	require.NoError(t, err)

	_, err = vs.Store(ctx, vectorstore.StoreRequest{TenantID: "acme", SegmentID: "seg", Model: "m", Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, err = vs.Store(ctx, vectorstore.StoreRequest{TenantID: "acme", SegmentID: "seg", Model: "m", Vector: []float32{1, 0, 0}})
	require.ErrorIs(t, err, vectorstore.ErrDuplicateEmbedding)

	hits, err := vs.Search(ctx, "acme", []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "seg", hits[0].SegmentID)
}
