package vectorstore

import (
	"context"

	"github.com/fyrsmithlabs/waypoint/internal/config"
	"github.com/fyrsmithlabs/waypoint/internal/provider"
	"go.uber.org/zap"
)

// Backend stores transformed vectors, one approximate nearest neighbour
// index per shard. Every read and write is scoped to a single tenant.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// EnsureShard provisions the shard's index. It is idempotent.
	EnsureShard(ctx context.Context, shard Shard) error

	// Upsert writes rec into the shard, replacing any vector with the same
	// tenant and index id.
	Upsert(ctx context.Context, shard Shard, rec VectorRecord) error

	// Delete removes one vector. Missing vectors are not an error.
	Delete(ctx context.Context, shard Shard, tenantID, indexID string) error

	// Search returns up to k of the tenant's vectors closest to query by
	// cosine similarity, highest first.
	Search(ctx context.Context, shard Shard, tenantID string, query []float32, k int) ([]Match, error)

	// Close releases connections.
	Close() error
}

// BackendParams is passed to backend factories.
type BackendParams struct {
	Config config.VectorStoreConfig
	Logger *zap.Logger
}

// NewBackendRegistry returns a registry with every built-in backend.
func NewBackendRegistry() *provider.Registry[BackendParams, Backend] {
	r := provider.NewRegistry[BackendParams, Backend]("vectorstore")
	r.MustRegister("chromem", func(_ context.Context, p BackendParams) (Backend, error) {
		return NewChromemBackend(ChromemOptions{
			Path:     p.Config.Chromem.Path,
			Compress: p.Config.Chromem.Compress,
		}, p.Logger)
	})
	r.MustRegister("qdrant", func(ctx context.Context, p BackendParams) (Backend, error) {
		return NewQdrantBackend(ctx, QdrantOptions{
			Host:   p.Config.Qdrant.Host,
			Port:   p.Config.Qdrant.Port,
			UseTLS: p.Config.Qdrant.UseTLS,
			APIKey: p.Config.Qdrant.APIKey.Value(),
		}, p.Logger)
	})
	r.MustRegister("milvus", func(ctx context.Context, p BackendParams) (Backend, error) {
		return NewMilvusBackend(ctx, MilvusOptions{
			Address:  p.Config.Milvus.Address,
			Username: p.Config.Milvus.Username,
			Password: p.Config.Milvus.Password.Value(),
			DBName:   p.Config.Milvus.DBName,
		}, p.Logger)
	})
	r.MustRegister("pgvector", func(ctx context.Context, p BackendParams) (Backend, error) {
		return NewPgvectorBackend(ctx, p.Config.Pgvector.DSN.Value(), p.Logger)
	})
	return r
}
