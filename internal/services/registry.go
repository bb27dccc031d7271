package services

import (
	"context"

	"github.com/fyrsmithlabs/waypoint/internal/embeddings"
	"github.com/fyrsmithlabs/waypoint/internal/secrets"
	"github.com/fyrsmithlabs/waypoint/internal/vectorstore"
)

// Embedder embeds and searches segment text. *embeddings.Generator
// implements it.
type Embedder interface {
	Generate(ctx context.Context, req embeddings.GenerateRequest) (*vectorstore.StoreResult, error)
	Query(ctx context.Context, tenantID, text string, limit int, opts ...vectorstore.SearchOption) ([]vectorstore.Hit, error)
	Model() string
}

// Registry provides access to the shared services.
type Registry interface {
	Embeddings() Embedder
	Text() embeddings.TextGenerator
	Scrubber() *secrets.Scrubber
}

// Options configures the registry with service instances.
type Options struct {
	Embeddings Embedder
	Text       embeddings.TextGenerator
	Scrubber   *secrets.Scrubber
}

// registry is the concrete implementation of Registry.
type registry struct {
	embeddings Embedder
	text       embeddings.TextGenerator
	scrubber   *secrets.Scrubber
}

var _ Embedder = (*embeddings.Generator)(nil)

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		embeddings: opts.Embeddings,
		text:       opts.Text,
		scrubber:   opts.Scrubber,
	}
}

func (r *registry) Embeddings() Embedder           { return r.embeddings }
func (r *registry) Text() embeddings.TextGenerator { return r.text }
func (r *registry) Scrubber() *secrets.Scrubber    { return r.scrubber }
