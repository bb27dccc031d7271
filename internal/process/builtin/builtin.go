// Package builtin holds the processes shipped with waypointd.
package builtin

import (
	"github.com/fyrsmithlabs/waypoint/internal/process"
)

// Process ids.
const (
	SegmentEmbeddingID = "segment-embedding"
	SemanticSearchID   = "semantic-search"
	JourneySummaryID   = "journey-summary"
)

// Register adds every built-in process to r.
func Register(r *process.Registry) error {
	for _, f := range []process.Factory{
		func() process.Process { return &SegmentEmbedding{} },
		func() process.Process { return &SemanticSearch{} },
		func() process.Process { return &JourneySummary{} },
	} {
		if err := r.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-ins.
func NewRegistry() (*process.Registry, error) {
	r := process.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
