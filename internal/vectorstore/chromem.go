package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fyrsmithlabs/waypoint/internal/config"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const metaTenantID = "tenant_id"

// errNoEmbedder is returned if chromem ever asks us to embed content. All
// documents carry precomputed embeddings.
var errNoEmbedder = errors.New("chromem backend stores precomputed embeddings only")

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// ChromemOptions configures the embedded backend.
type ChromemOptions struct {
	// Path enables gob persistence; empty keeps everything in memory.
	Path     string
	Compress bool
}

// ChromemBackend keeps one chromem collection per (shard, tenant)
// partition, so a query can only ever reach its own tenant's vectors.
type ChromemBackend struct {
	db     *chromem.DB
	logger *zap.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemBackend opens an in-memory or persistent chromem database.
func NewChromemBackend(opts ChromemOptions, logger *zap.Logger) (*ChromemBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if opts.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := config.ExpandPath(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding chromem path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		logger.Info("chromem backend persistent", zap.String("path", path), zap.Bool("compress", opts.Compress))
	}

	return &ChromemBackend{
		db:          db,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (b *ChromemBackend) Name() string { return "chromem" }

// EnsureShard is a no-op: partitions are created on first write.
func (b *ChromemBackend) EnsureShard(context.Context, Shard) error { return nil }

func (b *ChromemBackend) collection(name string, create bool) (*chromem.Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.collections[name]; ok {
		return c, nil
	}
	if c := b.db.GetCollection(name, noEmbedding); c != nil {
		b.collections[name] = c
		return c, nil
	}
	if !create {
		return nil, nil
	}
	c, err := b.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}
	b.collections[name] = c
	return c, nil
}

func (b *ChromemBackend) Upsert(ctx context.Context, shard Shard, rec VectorRecord) error {
	if len(rec.Vector) != shard.Dimension {
		return fmt.Errorf("%w: vector length %d in shard %d", ErrUnsupportedDimension, len(rec.Vector), shard.Dimension)
	}
	c, err := b.collection(shard.Partition(rec.TenantID), true)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        rec.IndexID,
		Metadata:  map[string]string{metaTenantID: rec.TenantID},
		Embedding: append([]float32(nil), rec.Vector...),
	}
	if err := c.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("adding document to %s: %w", c.Name, err)
	}
	return nil
}

func (b *ChromemBackend) Delete(ctx context.Context, shard Shard, tenantID, indexID string) error {
	c, err := b.collection(shard.Partition(tenantID), false)
	if err != nil || c == nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, indexID); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", indexID, c.Name, err)
	}
	return nil
}

func (b *ChromemBackend) Search(ctx context.Context, shard Shard, tenantID string, query []float32, k int) ([]Match, error) {
	c, err := b.collection(shard.Partition(tenantID), false)
	if err != nil || c == nil {
		return nil, err
	}

	// chromem rejects n larger than the collection.
	n := k
	if count := c.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, query, n, map[string]string{metaTenantID: tenantID}, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", c.Name, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{IndexID: r.ID, Similarity: float64(r.Similarity)}
	}
	return matches, nil
}

// Close is a no-op; persistent chromem writes through on every change.
func (b *ChromemBackend) Close() error { return nil }
