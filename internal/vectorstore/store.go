package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/tenant"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultSearchLimit applies when Search is called with limit <= 0.
	DefaultSearchLimit = 10

	// journeyOverfetch is the initial backend window, as a multiple of limit,
	// when results are post-filtered by journey.
	journeyOverfetch = 4

	// maxSearchWindow caps how far Search widens the backend query while
	// filtered hits fall short of limit.
	maxSearchWindow = 4096
)

var tracer = otel.Tracer("waypoint.vectorstore")

// Store is the tenant-isolated embedding store. It transforms raw vectors
// with the tenant key, routes them to a shard by length, and keeps the
// relational index in step with the backend.
type Store struct {
	backend Backend
	index   IndexRepository
	shards  *Shards
	policy  DuplicatePolicy
	logger  *zap.Logger
	now     func() time.Time

	ensured sync.Map
}

// Option configures a Store.
type Option func(*Store)

// WithDuplicatePolicy selects what happens when a segment is re-embedded
// with the same model.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for CreatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// ParseDuplicatePolicy maps a config string to a policy. Empty selects
// DuplicateReject.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicateReject:
		return DuplicateReject, nil
	case DuplicateReplace:
		return DuplicateReplace, nil
	default:
		return "", fmt.Errorf("%w: duplicate policy %q", ErrInvalidConfig, s)
	}
}

// NewStore wires a backend and an index repository together.
func NewStore(backend Backend, index IndexRepository, shards *Shards, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: index repository is required", ErrInvalidConfig)
	}
	if shards == nil {
		var err error
		if shards, err = NewShards(nil); err != nil {
			return nil, err
		}
	}
	s := &Store{
		backend: backend,
		index:   index,
		shards:  shards,
		policy:  DuplicateReject,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := ParseDuplicatePolicy(string(s.policy)); err != nil {
		return nil, err
	}
	return s, nil
}

// Shards returns the configured shard set.
func (s *Store) Shards() *Shards { return s.shards }

func (s *Store) ensureShard(ctx context.Context, shard Shard) error {
	if _, ok := s.ensured.Load(shard.Dimension); ok {
		return nil
	}
	if err := s.backend.EnsureShard(ctx, shard); err != nil {
		return err
	}
	s.ensured.Store(shard.Dimension, true)
	return nil
}

func observe(op, backend string, start time.Time, err error) {
	OperationDuration.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
	result := "success"
	switch {
	case errors.Is(err, ErrDuplicateEmbedding):
		result = "duplicate"
	case err != nil:
		result = "error"
	}
	OperationsTotal.WithLabelValues(op, result).Inc()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Store transforms req.Vector under the tenant key and persists it in the
// shard matching its length. Raw vectors never reach the backend.
func (s *Store) Store(ctx context.Context, req StoreRequest) (res *StoreResult, err error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Store", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.Int("vector.dimension", len(req.Vector)),
	))
	start := time.Now()
	defer func() {
		observe("store", s.backend.Name(), start, err)
		endSpan(span, err)
	}()

	if req.SegmentID == "" || req.Model == "" {
		return nil, fmt.Errorf("%w: segment id and model are required", ErrInvalidRequest)
	}
	if err := tenant.ValidateID(req.TenantID); err != nil {
		return nil, err
	}
	shard, err := s.shards.For(len(req.Vector))
	if err != nil {
		return nil, err
	}
	transformed, err := tenant.Transform(req.TenantID, req.Vector)
	if err != nil {
		return nil, err
	}
	if err := s.ensureShard(ctx, shard); err != nil {
		return nil, fmt.Errorf("ensuring shard %s: %w", shard.Name(), err)
	}

	existing, err := s.index.FindIndex(ctx, req.TenantID, req.SegmentID, req.Model)
	switch {
	case err == nil:
		if s.policy != DuplicateReplace {
			return nil, fmt.Errorf("%w: segment %s model %s", ErrDuplicateEmbedding, req.SegmentID, req.Model)
		}
		return s.replace(ctx, existing, shard, req, transformed)
	case !errors.Is(err, ErrIndexNotFound):
		return nil, fmt.Errorf("looking up index: %w", err)
	}

	rec := &IndexRecord{
		IndexID:   uuid.NewString(),
		TenantID:  req.TenantID,
		SegmentID: req.SegmentID,
		JourneyID: req.JourneyID,
		Model:     req.Model,
		Dimension: shard.Dimension,
		CreatedAt: s.now().UTC(),
	}
	if err := s.index.InsertIndex(ctx, rec); err != nil {
		if !errors.Is(err, ErrDuplicateEmbedding) || s.policy != DuplicateReplace {
			return nil, err
		}
		// A concurrent writer inserted the row first; replace its vector.
		existing, ferr := s.index.FindIndex(ctx, req.TenantID, req.SegmentID, req.Model)
		if ferr != nil {
			return nil, fmt.Errorf("looking up index after duplicate insert: %w", ferr)
		}
		return s.replace(ctx, existing, shard, req, transformed)
	}

	vr := VectorRecord{IndexID: rec.IndexID, TenantID: req.TenantID, Vector: transformed}
	if err := s.backend.Upsert(ctx, shard, vr); err != nil {
		s.compensate(ctx, rec.IndexID)
		return nil, fmt.Errorf("writing vector to %s: %w", shard.Name(), err)
	}

	s.logger.Debug("embedding stored",
		zap.String("index_id", rec.IndexID),
		zap.String("segment_id", req.SegmentID),
		zap.Int("dimension", shard.Dimension))
	return &StoreResult{IndexID: rec.IndexID, Dimension: shard.Dimension}, nil
}

// replace overwrites an existing embedding in place, keeping its index id.
func (s *Store) replace(ctx context.Context, existing *IndexRecord, shard Shard, req StoreRequest, transformed []float32) (*StoreResult, error) {
	if existing.Dimension != shard.Dimension {
		old, err := s.shards.For(existing.Dimension)
		if err == nil {
			if err := s.backend.Delete(ctx, old, existing.TenantID, existing.IndexID); err != nil {
				return nil, fmt.Errorf("removing vector from %s: %w", old.Name(), err)
			}
		}
	}

	vr := VectorRecord{IndexID: existing.IndexID, TenantID: req.TenantID, Vector: transformed}
	if err := s.backend.Upsert(ctx, shard, vr); err != nil {
		return nil, fmt.Errorf("writing vector to %s: %w", shard.Name(), err)
	}

	updated := *existing
	updated.JourneyID = req.JourneyID
	updated.Dimension = shard.Dimension
	updated.CreatedAt = s.now().UTC()
	if err := s.index.ReplaceIndex(ctx, &updated); err != nil {
		return nil, fmt.Errorf("updating index %s: %w", existing.IndexID, err)
	}
	return &StoreResult{IndexID: existing.IndexID, Dimension: shard.Dimension, Replaced: true}, nil
}

// compensate removes an index row whose vector never made it to the backend.
func (s *Store) compensate(ctx context.Context, indexID string) {
	if err := s.index.DeleteIndex(context.WithoutCancel(ctx), indexID); err != nil {
		CompensationsTotal.WithLabelValues("error").Inc()
		s.logger.Error("failed to remove orphaned index row", zap.String("index_id", indexID), zap.Error(err))
		return
	}
	CompensationsTotal.WithLabelValues("success").Inc()
}

// SearchOption narrows a search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	journeyID     string
	minSimilarity float64
	hasMin        bool
}

// WithJourney restricts hits to segments recorded under journeyID.
func WithJourney(journeyID string) SearchOption {
	return func(o *searchOptions) {
		o.journeyID = journeyID
	}
}

// WithMinSimilarity drops hits below threshold.
func WithMinSimilarity(threshold float64) SearchOption {
	return func(o *searchOptions) {
		o.minSimilarity = threshold
		o.hasMin = true
	}
}

// Search finds the tenant's stored segments closest to rawQuery. The query
// is transformed with the same tenant key, so similarities equal those of
// the raw vectors.
func (s *Store) Search(ctx context.Context, tenantID string, rawQuery []float32, limit int, opts ...SearchOption) (hits []Hit, err error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Search", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int("vector.dimension", len(rawQuery)),
		attribute.Int("limit", limit),
	))
	start := time.Now()
	defer func() {
		observe("search", s.backend.Name(), start, err)
		span.SetAttributes(attribute.Int("hits", len(hits)))
		endSpan(span, err)
	}()

	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	if err := tenant.ValidateID(tenantID); err != nil {
		return nil, err
	}
	shard, err := s.shards.For(len(rawQuery))
	if err != nil {
		return nil, err
	}
	query, err := tenant.Transform(tenantID, rawQuery)
	if err != nil {
		return nil, err
	}
	if err := s.ensureShard(ctx, shard); err != nil {
		return nil, fmt.Errorf("ensuring shard %s: %w", shard.Name(), err)
	}

	k := limit
	if o.journeyID != "" {
		k *= journeyOverfetch
	}
	k = min(k, maxSearchWindow)
	for {
		matches, err := s.backend.Search(ctx, shard, tenantID, query, k)
		if err != nil {
			return nil, err
		}
		hits, err = s.resolveHits(ctx, tenantID, matches, o)
		if err != nil {
			return nil, err
		}
		if len(hits) >= limit || len(matches) < k || k >= maxSearchWindow {
			break
		}
		// Matches come highest first; past the threshold nothing else can pass.
		if o.hasMin && matches[len(matches)-1].Similarity < o.minSimilarity {
			break
		}
		k = min(k*2, maxSearchWindow)
		span.AddEvent("widening search window", trace.WithAttributes(attribute.Int("k", k)))
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// resolveHits joins backend matches with their index rows and applies the
// search filters.
func (s *Store) resolveHits(ctx context.Context, tenantID string, matches []Match, o searchOptions) ([]Hit, error) {
	hits := make([]Hit, 0, len(matches))
	if len(matches) == 0 {
		return hits, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.IndexID
	}
	records, err := s.index.GetIndexes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading index metadata: %w", err)
	}

	for _, m := range matches {
		rec, ok := records[m.IndexID]
		if !ok {
			OrphanedMatches.Inc()
			s.logger.Warn("dropping match without index metadata", zap.String("index_id", m.IndexID))
			continue
		}
		if rec.TenantID != tenantID {
			s.logger.Error("backend returned another tenant's vector", zap.String("index_id", m.IndexID))
			continue
		}
		if o.journeyID != "" && rec.JourneyID != o.journeyID {
			continue
		}
		if o.hasMin && m.Similarity < o.minSimilarity {
			continue
		}
		hits = append(hits, Hit{
			IndexID:    rec.IndexID,
			SegmentID:  rec.SegmentID,
			JourneyID:  rec.JourneyID,
			Model:      rec.Model,
			Similarity: m.Similarity,
		})
	}
	return hits, nil
}

// DeleteSegment removes every embedding recorded for segmentID, across
// tenants, models and shards.
func (s *Store) DeleteSegment(ctx context.Context, segmentID string) (err error) {
	ctx, span := tracer.Start(ctx, "vectorstore.DeleteSegment", trace.WithAttributes(
		attribute.String("segment.id", segmentID),
	))
	start := time.Now()
	defer func() {
		observe("delete_segment", s.backend.Name(), start, err)
		endSpan(span, err)
	}()

	if segmentID == "" {
		return fmt.Errorf("%w: segment id is required", ErrInvalidRequest)
	}
	records, err := s.index.DeleteSegmentIndexes(ctx, segmentID)
	if err != nil {
		return fmt.Errorf("deleting index rows: %w", err)
	}

	var errs []error
	for _, rec := range records {
		shard, err := s.shards.For(rec.Dimension)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.backend.Delete(ctx, shard, rec.TenantID, rec.IndexID); err != nil {
			errs = append(errs, fmt.Errorf("deleting vector %s: %w", rec.IndexID, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
