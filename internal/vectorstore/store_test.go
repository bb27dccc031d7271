package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memIndex is an in-memory IndexRepository.
type memIndex struct {
	mu   sync.Mutex
	rows map[string]*IndexRecord
}

func newMemIndex() *memIndex {
	return &memIndex{rows: make(map[string]*IndexRecord)}
}

func (m *memIndex) InsertIndex(_ context.Context, rec *IndexRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TenantID == rec.TenantID && r.SegmentID == rec.SegmentID && r.Model == rec.Model {
			return ErrDuplicateEmbedding
		}
	}
	cp := *rec
	m.rows[rec.IndexID] = &cp
	return nil
}

func (m *memIndex) ReplaceIndex(_ context.Context, rec *IndexRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[rec.IndexID]; !ok {
		return ErrIndexNotFound
	}
	cp := *rec
	m.rows[rec.IndexID] = &cp
	return nil
}

func (m *memIndex) FindIndex(_ context.Context, tenantID, segmentID, model string) (*IndexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TenantID == tenantID && r.SegmentID == segmentID && r.Model == model {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrIndexNotFound
}

func (m *memIndex) GetIndexes(_ context.Context, ids []string) (map[string]*IndexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*IndexRecord, len(ids))
	for _, id := range ids {
		if r, ok := m.rows[id]; ok {
			cp := *r
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *memIndex) DeleteIndex(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memIndex) DeleteSegmentIndexes(_ context.Context, segmentID string) ([]*IndexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*IndexRecord
	for id, r := range m.rows {
		if r.SegmentID == segmentID {
			out = append(out, r)
			delete(m.rows, id)
		}
	}
	return out, nil
}

func (m *memIndex) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// recordingBackend wraps a backend, remembering upserted vectors and
// optionally failing writes.
type recordingBackend struct {
	Backend
	mu        sync.Mutex
	upserted  [][]float32
	failWrite error
}

func (b *recordingBackend) Upsert(ctx context.Context, shard Shard, rec VectorRecord) error {
	if b.failWrite != nil {
		return b.failWrite
	}
	b.mu.Lock()
	b.upserted = append(b.upserted, append([]float32(nil), rec.Vector...))
	b.mu.Unlock()
	return b.Backend.Upsert(ctx, shard, rec)
}

func newTestStore(t *testing.T, dims []int, opts ...Option) (*Store, *memIndex, *recordingBackend) {
	t.Helper()
	chromem, err := NewChromemBackend(ChromemOptions{}, nil)
	require.NoError(t, err)
	backend := &recordingBackend{Backend: chromem}
	shards, err := NewShards(dims)
	require.NoError(t, err)
	index := newMemIndex()
	store, err := NewStore(backend, index, shards, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, index, backend
}

func TestStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t, []int{3})

	res, err := store.Store(ctx, StoreRequest{
		TenantID:  "tenant-a",
		SegmentID: "seg-1",
		Model:     "test-model",
		Vector:    []float32{1, 0, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Dimension)
	assert.NotEmpty(t, res.IndexID)

	hits, err := store.Search(ctx, "tenant-a", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "seg-1", hits[0].SegmentID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)

	hits, err = store.Search(ctx, "tenant-b", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_NeverWritesRawVectors(t *testing.T) {
	ctx := context.Background()
	store, _, backend := newTestStore(t, []int{8})

	raw := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	_, err := store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "s", Model: "m", Vector: raw})
	require.NoError(t, err)

	require.Len(t, backend.upserted, 1)
	assert.NotEqual(t, raw, backend.upserted[0])
	assert.ElementsMatch(t, absAll(raw), absAll(backend.upserted[0]))
}

func absAll(v []float32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		if x < 0 {
			x = -x
		}
		out[i] = x
	}
	return out
}

func TestStore_UnsupportedDimension(t *testing.T) {
	ctx := context.Background()
	store, index, _ := newTestStore(t, nil)

	_, err := store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "s", Model: "m", Vector: []float32{1, 2, 3}})
	require.ErrorIs(t, err, ErrUnsupportedDimension)
	assert.Zero(t, index.len())

	_, err = store.Search(ctx, "acme", make([]float32, 512), 5)
	require.ErrorIs(t, err, ErrUnsupportedDimension)
}

func TestStore_InvalidRequest(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t, []int{3})

	_, err := store.Store(ctx, StoreRequest{TenantID: "acme", Model: "m", Vector: []float32{1, 0, 0}})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = store.Store(ctx, StoreRequest{SegmentID: "s", Model: "m", Vector: []float32{1, 0, 0}})
	require.Error(t, err)
}

func TestStore_DuplicatePolicy(t *testing.T) {
	ctx := context.Background()
	req := StoreRequest{TenantID: "acme", SegmentID: "seg", Model: "m", Vector: []float32{1, 0, 0}}

	t.Run("reject", func(t *testing.T) {
		store, index, _ := newTestStore(t, []int{3})
		_, err := store.Store(ctx, req)
		require.NoError(t, err)

		_, err = store.Store(ctx, req)
		require.ErrorIs(t, err, ErrDuplicateEmbedding)
		assert.Equal(t, 1, index.len())
	})

	t.Run("replace", func(t *testing.T) {
		store, index, _ := newTestStore(t, []int{3}, WithDuplicatePolicy(DuplicateReplace))
		first, err := store.Store(ctx, req)
		require.NoError(t, err)

		again := req
		again.Vector = []float32{0, 1, 0}
		again.JourneyID = "j-2"
		second, err := store.Store(ctx, again)
		require.NoError(t, err)
		assert.True(t, second.Replaced)
		assert.Equal(t, first.IndexID, second.IndexID)
		assert.Equal(t, 1, index.len())

		hits, err := store.Search(ctx, "acme", []float32{0, 1, 0}, 5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
		assert.Equal(t, "j-2", hits[0].JourneyID)
	})

	t.Run("same segment different model", func(t *testing.T) {
		store, index, _ := newTestStore(t, []int{3})
		_, err := store.Store(ctx, req)
		require.NoError(t, err)

		other := req
		other.Model = "m2"
		_, err = store.Store(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, 2, index.len())
	})
}

// lateIndex misses the first FindIndex, as if another writer inserted the
// row between the lookup and the insert.
type lateIndex struct {
	*memIndex
	missed bool
}

func (l *lateIndex) FindIndex(ctx context.Context, tenantID, segmentID, model string) (*IndexRecord, error) {
	if !l.missed {
		l.missed = true
		return nil, ErrIndexNotFound
	}
	return l.memIndex.FindIndex(ctx, tenantID, segmentID, model)
}

func TestStore_ReplaceAfterConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	req := StoreRequest{TenantID: "acme", SegmentID: "seg", Model: "m", Vector: []float32{1, 0, 0}}

	for _, tt := range []struct {
		policy  DuplicatePolicy
		wantErr error
	}{
		{DuplicateReplace, nil},
		{DuplicateReject, ErrDuplicateEmbedding},
	} {
		t.Run(string(tt.policy), func(t *testing.T) {
			first, _, _ := newTestStore(t, []int{3})
			chromem := first.backend

			index := newMemIndex()
			seeded, err := NewStore(chromem, index, first.shards)
			require.NoError(t, err)
			stored, err := seeded.Store(ctx, req)
			require.NoError(t, err)

			racing, err := NewStore(chromem, &lateIndex{memIndex: index}, first.shards, WithDuplicatePolicy(tt.policy))
			require.NoError(t, err)
			again := req
			again.Vector = []float32{0, 1, 0}
			res, err := racing.Store(ctx, again)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Replaced)
			assert.Equal(t, stored.IndexID, res.IndexID)
			assert.Equal(t, 1, index.len())
		})
	}
}

func TestStore_CompensatesFailedBackendWrite(t *testing.T) {
	ctx := context.Background()
	store, index, backend := newTestStore(t, []int{3})
	backend.failWrite = errors.New("backend unavailable")

	_, err := store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "s", Model: "m", Vector: []float32{1, 0, 0}})
	require.Error(t, err)
	assert.Zero(t, index.len(), "index row must be rolled back")

	backend.failWrite = nil
	_, err = store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "s", Model: "m", Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
}

func TestStore_SearchOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t, []int{3})

	vectors := map[string][]float32{
		"near": {1, 0.1, 0},
		"mid":  {1, 1, 0},
		"far":  {0, 0, 1},
	}
	journeys := map[string]string{"near": "j-1", "mid": "j-2", "far": "j-1"}
	for seg, v := range vectors {
		_, err := store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: seg, JourneyID: journeys[seg], Model: "m", Vector: v})
		require.NoError(t, err)
	}

	hits, err := store.Search(ctx, "acme", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, segments(hits))

	hits, err = store.Search(ctx, "acme", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid"}, segments(hits))

	hits, err = store.Search(ctx, "acme", []float32{1, 0, 0}, 10, WithJourney("j-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far"}, segments(hits))

	hits, err = store.Search(ctx, "acme", []float32{1, 0, 0}, 10, WithMinSimilarity(0.5))
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid"}, segments(hits))
}

func TestStore_SearchWidensPastOtherJourneys(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t, []int{3})

	for i, v := range [][]float32{{1, 0, 0}, {1, 0.05, 0}, {1, 0, 0.05}, {1, 0.1, 0}, {1, 0, 0.1}} {
		_, err := store.Store(ctx, StoreRequest{
			TenantID: "acme", SegmentID: fmt.Sprintf("x-%d", i), JourneyID: "X", Model: "m", Vector: v,
		})
		require.NoError(t, err)
	}
	_, err := store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "y", JourneyID: "Y", Model: "m", Vector: []float32{0, 1, 0}})
	require.NoError(t, err)

	hits, err := store.Search(ctx, "acme", []float32{1, 0, 0}, 1, WithJourney("Y"))
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, segments(hits))

	hits, err = store.Search(ctx, "acme", []float32{1, 0, 0}, 3, WithJourney("X"))
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	hits, err = store.Search(ctx, "acme", []float32{1, 0, 0}, 1, WithJourney("Y"), WithMinSimilarity(0.5))
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func segments(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.SegmentID
	}
	return out
}

func TestStore_SearchDropsOrphans(t *testing.T) {
	ctx := context.Background()
	store, index, _ := newTestStore(t, []int{3})

	res, err := store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "s", Model: "m", Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	require.NoError(t, index.DeleteIndex(ctx, res.IndexID))

	hits, err := store.Search(ctx, "acme", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_DeleteSegment(t *testing.T) {
	ctx := context.Background()
	store, index, _ := newTestStore(t, []int{3, 4})

	_, err := store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "s", Model: "small", Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, err = store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "s", Model: "wide", Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	_, err = store.Store(ctx, StoreRequest{TenantID: "acme", SegmentID: "keep", Model: "small", Vector: []float32{1, 0, 0}})
	require.NoError(t, err)

	require.NoError(t, store.DeleteSegment(ctx, "s"))
	assert.Equal(t, 1, index.len())

	hits, err := store.Search(ctx, "acme", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, segments(hits))

	hits, err = store.Search(ctx, "acme", []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.ErrorIs(t, store.DeleteSegment(ctx, ""), ErrInvalidRequest)
}

func TestParseDuplicatePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DuplicatePolicy
		wantErr bool
	}{
		{"", DuplicateReject, false},
		{"reject", DuplicateReject, false},
		{"replace", DuplicateReplace, false},
		{"merge", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuplicatePolicy(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShards(t *testing.T) {
	s, err := NewShards(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{384, 768, 1536}, s.Dimensions())

	shard, err := s.For(768)
	require.NoError(t, err)
	assert.Equal(t, "emb_768", shard.Name())

	_, err = s.For(512)
	require.ErrorIs(t, err, ErrUnsupportedDimension)

	_, err = NewShards([]int{3, 3})
	require.Error(t, err)
	_, err = NewShards([]int{0})
	require.Error(t, err)
}
