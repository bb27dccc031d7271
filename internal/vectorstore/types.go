package vectorstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateEmbedding is returned when (tenant, segment, model) is
	// already indexed and the duplicate policy is reject.
	ErrDuplicateEmbedding = errors.New("duplicate embedding")

	// ErrIndexNotFound is returned when no index metadata row matches.
	ErrIndexNotFound = errors.New("embedding index not found")

	// ErrInvalidRequest indicates a missing identifier or empty vector.
	ErrInvalidRequest = errors.New("invalid vectorstore request")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// DuplicatePolicy decides what Store does when a segment is re-embedded
// with the same model.
type DuplicatePolicy string

const (
	DuplicateReject  DuplicatePolicy = "reject"
	DuplicateReplace DuplicatePolicy = "replace"
)

// VectorRecord is one transformed vector as handed to a Backend.
type VectorRecord struct {
	IndexID  string
	TenantID string
	Vector   []float32
}

// Match is one backend nearest neighbour.
type Match struct {
	IndexID    string
	Similarity float64
}

// IndexRecord is the relational metadata for one stored vector.
type IndexRecord struct {
	IndexID   string
	TenantID  string
	SegmentID string
	JourneyID string
	Model     string
	Dimension int
	CreatedAt time.Time
}

// StoreRequest asks Store to persist a raw embedding for a segment.
type StoreRequest struct {
	TenantID  string
	SegmentID string
	// JourneyID is optional.
	JourneyID string
	Model     string
	Vector    []float32
}

// StoreResult describes a persisted embedding.
type StoreResult struct {
	IndexID   string
	Dimension int
	Replaced  bool
}

// Hit is one search result.
type Hit struct {
	IndexID    string  `json:"index_id"`
	SegmentID  string  `json:"segment_id"`
	JourneyID  string  `json:"journey_id,omitempty"`
	Model      string  `json:"model"`
	Similarity float64 `json:"similarity"`
}

// IndexRepository persists embedding index metadata. Implementations must
// enforce uniqueness of (tenant_id, segment_id, model).
type IndexRepository interface {
	// InsertIndex returns ErrDuplicateEmbedding on a uniqueness conflict.
	InsertIndex(ctx context.Context, rec *IndexRecord) error
	// ReplaceIndex overwrites the row with rec.IndexID.
	ReplaceIndex(ctx context.Context, rec *IndexRecord) error
	// FindIndex returns ErrIndexNotFound when nothing matches.
	FindIndex(ctx context.Context, tenantID, segmentID, model string) (*IndexRecord, error)
	// GetIndexes returns the rows for the given ids, keyed by index id.
	// Unknown ids are omitted.
	GetIndexes(ctx context.Context, indexIDs []string) (map[string]*IndexRecord, error)
	// DeleteIndex removes a single row. Missing rows are not an error.
	DeleteIndex(ctx context.Context, indexID string) error
	// DeleteSegmentIndexes removes and returns every row for a segment.
	DeleteSegmentIndexes(ctx context.Context, segmentID string) ([]*IndexRecord, error)
}
