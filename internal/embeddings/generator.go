package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/vectorstore"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// VectorStore is the subset of *vectorstore.Store the generator needs.
type VectorStore interface {
	Store(ctx context.Context, req vectorstore.StoreRequest) (*vectorstore.StoreResult, error)
	Search(ctx context.Context, tenantID string, rawQuery []float32, limit int, opts ...vectorstore.SearchOption) ([]vectorstore.Hit, error)
}

// GenerateRequest asks for a segment's text to be embedded and stored.
type GenerateRequest struct {
	TenantID  string
	SegmentID string
	JourneyID string
	Text      string
}

// Generator embeds text with a provider and persists or searches the
// result in the vector store.
type Generator struct {
	provider Provider
	store    VectorStore
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *zap.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRateLimit caps provider calls per second. perSecond <= 0 disables
// limiting.
func WithRateLimit(perSecond float64, burst int) GeneratorOption {
	return func(g *Generator) {
		if perSecond <= 0 {
			g.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) GeneratorOption {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGenerator creates a Generator.
func NewGenerator(p Provider, store VectorStore, opts ...GeneratorOption) (*Generator, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrInvalidConfig)
	}
	g := &Generator{
		provider: p,
		store:    store,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Model returns the provider's model name.
func (g *Generator) Model() string { return g.provider.Model() }

// Generate embeds req.Text and stores it for the segment.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*vectorstore.StoreResult, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vec, err := g.embed(ctx, "generate", req.Text, false)
	if err != nil {
		return nil, err
	}
	return g.store.Store(ctx, vectorstore.StoreRequest{
		TenantID:  req.TenantID,
		SegmentID: req.SegmentID,
		JourneyID: req.JourneyID,
		Model:     g.provider.Model(),
		Vector:    vec,
	})
}

// Query embeds text as a search query and returns the tenant's closest
// stored segments.
func (g *Generator) Query(ctx context.Context, tenantID, text string, limit int, opts ...vectorstore.SearchOption) ([]vectorstore.Hit, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", ErrEmptyInput)
	}
	vec, err := g.embed(ctx, "query", text, true)
	if err != nil {
		return nil, err
	}
	return g.store.Search(ctx, tenantID, vec, limit, opts...)
}

func (g *Generator) embed(ctx context.Context, operation, text string, query bool) (vec []float32, err error) {
	start := time.Now()
	defer func() {
		g.metrics.RecordGeneration(ctx, g.provider.Model(), operation, time.Since(start), err)
	}()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	if qe, ok := g.provider.(QueryEmbedder); ok && query {
		vec, err = qe.EmbedQuery(ctx, text)
	} else {
		var vecs [][]float32
		vecs, err = g.provider.Embed(ctx, []string{text})
		if err == nil {
			if len(vecs) != 1 {
				err = fmt.Errorf("provider returned %d vectors for 1 text", len(vecs))
			} else {
				vec = vecs[0]
			}
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		g.logger.Warn("embedding provider failed", zap.String("model", g.provider.Model()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(vec) == 0 || isZero(vec) {
		return nil, fmt.Errorf("%w: provider returned an empty vector", ErrEmbeddingUnavailable)
	}
	return vec, nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
