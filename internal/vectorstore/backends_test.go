package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline exceeded", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"aborted", status.Error(codes.Aborted, "conflict"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "busy"), true},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad vector"), false},
		{"not found", status.Error(codes.NotFound, "no collection"), false},
		{"permission denied", status.Error(codes.PermissionDenied, "api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestQdrantRetry(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	invalid := status.Error(codes.InvalidArgument, "bad")

	tests := []struct {
		name      string
		failures  int
		failWith  error
		wantCalls int
		wantErr   error
	}{
		{"succeeds first time", 0, nil, 1, nil},
		{"recovers after transient failures", 2, unavailable, 3, nil},
		{"permanent error is not retried", 5, invalid, 1, invalid},
		{"gives up after max retries", 10, unavailable, qdrantMaxRetries + 1, unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &QdrantBackend{logger: zap.NewNop(), backoff: time.Millisecond}
			calls := 0
			err := b.retry(context.Background(), "upsert", func() error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQdrantRetry_BackoffDoubles(t *testing.T) {
	b := &QdrantBackend{logger: zap.NewNop(), backoff: 5 * time.Millisecond}
	start := time.Now()
	err := b.retry(context.Background(), "search", func() error {
		return status.Error(codes.Unavailable, "down")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search failed after 3 retries")
	// 5ms + 10ms + 20ms between the four attempts.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestQdrantRetry_StopsOnCancel(t *testing.T) {
	b := &QdrantBackend{logger: zap.NewNop(), backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := b.retry(ctx, "delete", func() error {
		calls++
		cancel()
		return status.Error(codes.Unavailable, "down")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestTenantFilter(t *testing.T) {
	f := tenantFilter("acme")
	require.Len(t, f.GetMust(), 1)
	field := f.GetMust()[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, metaTenantID, field.GetKey())
	assert.Equal(t, "acme", field.GetMatch().GetKeyword())

	id := "2f1c0d7e-8a41-4c1a-9a57-0d2b6f3e9c11"
	f = tenantFilter("globex", qdrantPointCondition(id))
	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, "globex", f.GetMust()[0].GetField().GetMatch().GetKeyword())
	ids := f.GetMust()[1].GetHasId().GetHasId()
	require.Len(t, ids, 1)
	assert.Equal(t, id, ids[0].GetUuid())
}

func TestMilvusExpressions(t *testing.T) {
	assert.Equal(t, `tenant_id == "acme"`, milvusTenantExpr("acme"))
	assert.Equal(t, `tenant_id == "ac\"me\\"`, milvusTenantExpr(`ac"me\`))
	assert.Equal(t, `tenant_id == "acme" && index_id == "idx-1"`, milvusPointExpr("acme", "idx-1"))
}

func TestMilvusEf(t *testing.T) {
	assert.Equal(t, milvusMinEf, milvusEf(1))
	assert.Equal(t, 500, milvusEf(500))
	assert.Equal(t, milvusMaxEf, milvusEf(100000))
}

func TestPgTable(t *testing.T) {
	assert.Equal(t, "embeddings_384", pgTable(Shard{Dimension: 384}))
	assert.Equal(t, "embeddings_1536", pgTable(Shard{Dimension: 1536}))
}

func TestEfSearch(t *testing.T) {
	assert.Equal(t, pgMinEfSearch, efSearch(1))
	assert.Equal(t, 160, efSearch(80))
	assert.Equal(t, pgMaxEfSearch, efSearch(4096))
}

func TestSupportsIterativeScan(t *testing.T) {
	tests := map[string]bool{
		"0.8.0":  true,
		"0.8.1":  true,
		"1.0.0":  true,
		"0.7.4":  false,
		"0.5":    false,
		"":       false,
		"latest": false,
	}
	for version, want := range tests {
		assert.Equal(t, want, supportsIterativeScan(version), version)
	}
}

func TestSortMatches(t *testing.T) {
	m := []Match{{IndexID: "b", Similarity: 0.7}, {IndexID: "a", Similarity: 0.9}, {IndexID: "c", Similarity: 0.7}}
	sortMatches(m)
	assert.Equal(t, []Match{{IndexID: "a", Similarity: 0.9}, {IndexID: "b", Similarity: 0.7}, {IndexID: "c", Similarity: 0.7}}, m)
}

func TestBackendOptionValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		open func() error
	}{
		{"qdrant empty host", func() error {
			_, err := NewQdrantBackend(ctx, QdrantOptions{Port: 6334}, nil)
			return err
		}},
		{"qdrant zero port", func() error {
			_, err := NewQdrantBackend(ctx, QdrantOptions{Host: "localhost"}, nil)
			return err
		}},
		{"qdrant port out of range", func() error {
			_, err := NewQdrantBackend(ctx, QdrantOptions{Host: "localhost", Port: 70000}, nil)
			return err
		}},
		{"milvus empty address", func() error {
			_, err := NewMilvusBackend(ctx, MilvusOptions{Username: "root"}, nil)
			return err
		}},
		{"pgvector empty dsn", func() error {
			_, err := NewPgvectorBackend(ctx, "", nil)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.open(), ErrInvalidConfig)
		})
	}
}
