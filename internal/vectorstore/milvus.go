package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

const (
	milvusFieldIndexID   = "index_id"
	milvusFieldTenantID  = "tenant_id"
	milvusFieldEmbedding = "embedding"

	milvusMaxIDLength = 256

	// milvusMinEf is the HNSW search breadth for small k. Milvus requires
	// ef >= k.
	milvusMinEf = 64
	milvusMaxEf = 32768
)

// MilvusOptions configures the Milvus backend.
type MilvusOptions struct {
	Address  string
	Username string
	Password string
	DBName   string
}

// MilvusBackend keeps one collection per shard with an HNSW cosine index.
// Searches carry a tenant_id boolean expression.
type MilvusBackend struct {
	client milvusclient.Client
	logger *zap.Logger

	ensured sync.Map
}

// NewMilvusBackend connects to Milvus.
func NewMilvusBackend(ctx context.Context, opts MilvusOptions, logger *zap.Logger) (*MilvusBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Address == "" {
		return nil, fmt.Errorf("%w: milvus address required", ErrInvalidConfig)
	}
	c, err := milvusclient.NewClient(ctx, milvusclient.Config{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("milvus connect %s: %w", opts.Address, err)
	}
	return &MilvusBackend{client: c, logger: logger}, nil
}

func (b *MilvusBackend) Name() string { return "milvus" }

// EnsureShard creates the collection, builds the HNSW index and loads it.
func (b *MilvusBackend) EnsureShard(ctx context.Context, shard Shard) error {
	coll := shard.Name()
	if _, ok := b.ensured.Load(coll); ok {
		return nil
	}

	exists, err := b.client.HasCollection(ctx, coll)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", coll, err)
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(coll).
			WithField(entity.NewField().
				WithName(milvusFieldIndexID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(milvusMaxIDLength).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(milvusFieldTenantID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(milvusMaxIDLength)).
			WithField(entity.NewField().
				WithName(milvusFieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(shard.Dimension)))

		if err := b.client.CreateCollection(ctx, schema, 1); err != nil {
			return fmt.Errorf("create collection %s: %w", coll, err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
		if err != nil {
			return fmt.Errorf("create HNSW index params: %w", err)
		}
		if err := b.client.CreateIndex(ctx, coll, milvusFieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("create index on %s: %w", coll, err)
		}
		b.logger.Info("milvus shard created", zap.String("collection", coll), zap.Int("dimension", shard.Dimension))
	}

	if err := b.client.LoadCollection(ctx, coll, false); err != nil {
		return fmt.Errorf("load collection %s: %w", coll, err)
	}
	b.ensured.Store(coll, true)
	return nil
}

func (b *MilvusBackend) Upsert(ctx context.Context, shard Shard, rec VectorRecord) error {
	coll := shard.Name()
	_, err := b.client.Upsert(ctx, coll, "",
		entity.NewColumnVarChar(milvusFieldIndexID, []string{rec.IndexID}),
		entity.NewColumnVarChar(milvusFieldTenantID, []string{rec.TenantID}),
		entity.NewColumnFloatVector(milvusFieldEmbedding, shard.Dimension, [][]float32{rec.Vector}),
	)
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", coll, err)
	}
	if err := b.client.Flush(ctx, coll, false); err != nil {
		return fmt.Errorf("flush %s: %w", coll, err)
	}
	return nil
}

func (b *MilvusBackend) Delete(ctx context.Context, shard Shard, tenantID, indexID string) error {
	coll := shard.Name()
	if err := b.client.Delete(ctx, coll, "", milvusPointExpr(tenantID, indexID)); err != nil {
		return fmt.Errorf("delete from %s: %w", coll, err)
	}
	return nil
}

func (b *MilvusBackend) Search(ctx context.Context, shard Shard, tenantID string, query []float32, k int) ([]Match, error) {
	coll := shard.Name()

	sp, err := entity.NewIndexHNSWSearchParam(milvusEf(k))
	if err != nil {
		return nil, fmt.Errorf("create search params: %w", err)
	}

	results, err := b.client.Search(
		ctx,
		coll,
		nil,
		milvusTenantExpr(tenantID),
		[]string{milvusFieldIndexID},
		[]entity.Vector{entity.FloatVector(query)},
		milvusFieldEmbedding,
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", coll, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	sr := results[0]
	if sr.Err != nil {
		return nil, fmt.Errorf("search result error: %w", sr.Err)
	}

	idCol := sr.Fields.GetColumn(milvusFieldIndexID)
	if idCol == nil {
		return nil, fmt.Errorf("search %s: missing %s column", coll, milvusFieldIndexID)
	}
	matches := make([]Match, 0, sr.ResultCount)
	for i := 0; i < sr.ResultCount; i++ {
		id, err := idCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", milvusFieldIndexID, err)
		}
		matches = append(matches, Match{IndexID: id, Similarity: float64(sr.Scores[i])})
	}
	return matches, nil
}

func (b *MilvusBackend) Close() error {
	return b.client.Close()
}

func milvusTenantExpr(tenantID string) string {
	return fmt.Sprintf(`%s == "%s"`, milvusFieldTenantID, escapeExpr(tenantID))
}

func milvusPointExpr(tenantID, indexID string) string {
	return fmt.Sprintf(`%s && %s == "%s"`, milvusTenantExpr(tenantID), milvusFieldIndexID, escapeExpr(indexID))
}

func milvusEf(k int) int {
	return min(max(k, milvusMinEf), milvusMaxEf)
}

// escapeExpr escapes double quotes for Milvus boolean expressions.
func escapeExpr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
