package vectorstore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/waypoint/internal/tenant"
)

// ErrUnsupportedDimension is returned for vectors whose length is not a
// configured shard size.
var ErrUnsupportedDimension = errors.New("unsupported dimension")

// DefaultDimensions are the shard sizes used when none are configured.
var DefaultDimensions = []int{384, 768, 1536}

// Shard is one fixed-dimension vector index.
type Shard struct {
	Dimension int
}

// Name is the backend collection or table name for the shard.
func (s Shard) Name() string {
	return tenant.ShardName(s.Dimension)
}

// Partition is the per-tenant collection name used by backends that
// isolate tenants physically.
func (s Shard) Partition(tenantID string) string {
	return tenant.PartitionName(s.Dimension, tenantID)
}

// Shards is an immutable set of supported shards.
type Shards struct {
	byDim map[int]Shard
	dims  []int
}

// NewShards validates dims and builds the shard set. An empty list selects
// DefaultDimensions.
func NewShards(dims []int) (*Shards, error) {
	if len(dims) == 0 {
		dims = DefaultDimensions
	}
	s := &Shards{byDim: make(map[int]Shard, len(dims))}
	for _, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("shard dimension must be positive, got %d", d)
		}
		if _, dup := s.byDim[d]; dup {
			return nil, fmt.Errorf("duplicate shard dimension %d", d)
		}
		s.byDim[d] = Shard{Dimension: d}
		s.dims = append(s.dims, d)
	}
	sort.Ints(s.dims)
	return s, nil
}

// For returns the shard holding vectors of length dim.
func (s *Shards) For(dim int) (Shard, error) {
	shard, ok := s.byDim[dim]
	if !ok {
		return Shard{}, fmt.Errorf("%w: %d (supported: %v)", ErrUnsupportedDimension, dim, s.dims)
	}
	return shard, nil
}

// All returns every shard in ascending dimension order.
func (s *Shards) All() []Shard {
	out := make([]Shard, len(s.dims))
	for i, d := range s.dims {
		out[i] = s.byDim[d]
	}
	return out
}

// Dimensions returns the supported sizes in ascending order.
func (s *Shards) Dimensions() []int {
	return append([]int(nil), s.dims...)
}
