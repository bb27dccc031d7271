package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	qdrantMaxMessageSize = 50 * 1024 * 1024
	qdrantMaxRetries     = 3
)

// QdrantOptions configures the Qdrant gRPC backend.
type QdrantOptions struct {
	Host   string
	Port   int
	UseTLS bool
	APIKey string
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
}

// QdrantBackend keeps one collection per shard. Tenants share the
// collection and are separated by a mandatory tenant_id payload filter.
type QdrantBackend struct {
	client  *qdrant.Client
	logger  *zap.Logger
	backoff time.Duration

	ensured sync.Map
}

// NewQdrantBackend connects and health-checks the server.
func NewQdrantBackend(ctx context.Context, opts QdrantOptions, logger *zap.Logger) (*QdrantBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: qdrant host required", ErrInvalidConfig)
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid qdrant port %d", ErrInvalidConfig, opts.Port)
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if !opts.UseTLS {
		logger.Warn("qdrant gRPC using plaintext", zap.String("host", opts.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		UseTLS: opts.UseTLS,
		APIKey: opts.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(qdrantMaxMessageSize),
				grpc.MaxCallSendMsgSize(qdrantMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(checkCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	return &QdrantBackend{client: client, logger: logger, backoff: opts.RetryBackoff}, nil
}

func (b *QdrantBackend) Name() string { return "qdrant" }

// isTransient reports gRPC failures worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retry runs fn up to qdrantMaxRetries+1 times while it fails transiently,
// sleeping b.backoff before the first retry and doubling it after each.
func (b *QdrantBackend) retry(ctx context.Context, op string, fn func() error) error {
	backoff := b.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == qdrantMaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", op, qdrantMaxRetries, err)
		}
		b.logger.Debug("retrying qdrant operation", zap.String("operation", op), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (b *QdrantBackend) EnsureShard(ctx context.Context, shard Shard) error {
	name := shard.Name()
	if _, ok := b.ensured.Load(name); ok {
		return nil
	}

	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		err := b.retry(ctx, "create_collection", func() error {
			return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(shard.Dimension),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		_, err = b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      metaTenantID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("indexing %s.%s: %w", name, metaTenantID, err)
		}
		b.logger.Info("qdrant shard created", zap.String("collection", name), zap.Int("dimension", shard.Dimension))
	}

	b.ensured.Store(name, true)
	return nil
}

func tenantFilter(tenantID string, extra ...*qdrant.Condition) *qdrant.Filter {
	must := append([]*qdrant.Condition{qdrant.NewMatchKeyword(metaTenantID, tenantID)}, extra...)
	return &qdrant.Filter{Must: must}
}

func qdrantPointCondition(indexID string) *qdrant.Condition {
	return qdrant.NewHasID(qdrant.NewIDUUID(indexID))
}

func (b *QdrantBackend) Upsert(ctx context.Context, shard Shard, rec VectorRecord) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(rec.IndexID),
		Vectors: qdrant.NewVectors(rec.Vector...),
		Payload: map[string]*qdrant.Value{
			metaTenantID: {Kind: &qdrant.Value_StringValue{StringValue: rec.TenantID}},
		},
	}
	return b.retry(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: shard.Name(),
			Wait:           qdrant.PtrOf(true),
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
}

func (b *QdrantBackend) Delete(ctx context.Context, shard Shard, tenantID, indexID string) error {
	return b.retry(ctx, "delete", func() error {
		_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: shard.Name(),
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: tenantFilter(tenantID, qdrantPointCondition(indexID)),
				},
			},
		})
		return err
	})
}

func (b *QdrantBackend) Search(ctx context.Context, shard Shard, tenantID string, query []float32, k int) ([]Match, error) {
	var points []*qdrant.ScoredPoint
	err := b.retry(ctx, "search", func() error {
		res, err := b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: shard.Name(),
			Query:          qdrant.NewQuery(query...),
			Limit:          qdrant.PtrOf(uint64(k)),
			Filter:         tenantFilter(tenantID),
		})
		points = res
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", shard.Name(), err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, Match{IndexID: p.GetId().GetUuid(), Similarity: float64(p.GetScore())})
	}
	return matches, nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}
