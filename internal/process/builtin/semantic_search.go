package builtin

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/process"
	"github.com/fyrsmithlabs/waypoint/internal/value"
	"github.com/fyrsmithlabs/waypoint/internal/vectorstore"
)

const maxSearchLimit = 100

var semanticSearchSchema = process.InputSchema{
	{Name: "query", Kind: value.KindString, Required: true, Description: "text to search for"},
	{Name: "limit", Kind: value.KindNumber, Description: "maximum hits (default 10, max 100)"},
	{Name: "journey_only", Kind: value.KindBool, Description: "restrict hits to the execution's journey"},
	{Name: "min_similarity", Kind: value.KindNumber, Description: "drop hits below this cosine similarity"},
}

// SemanticSearch finds the tenant's segments most similar to a query.
type SemanticSearch struct{}

func (p *SemanticSearch) Descriptor() process.Descriptor {
	return process.Descriptor{
		ID:          SemanticSearchID,
		Name:        "Semantic search",
		Category:    process.CategorySearch,
		Description: "Returns stored segments ranked by similarity to a query.",
		InputSchema: semanticSearchSchema,
	}
}

func (p *SemanticSearch) Validate(inputs value.Map) error {
	if err := semanticSearchSchema.Validate(inputs); err != nil {
		return err
	}
	if q, _ := inputs.String("query"); q == "" {
		return fmt.Errorf("%w: query cannot be empty", process.ErrValidationFailed)
	}
	if inputs.Has("limit") {
		limit, ok := inputs.Int("limit")
		if !ok || limit < 1 || limit > maxSearchLimit {
			return fmt.Errorf("%w: limit must be an integer in [1, %d]", process.ErrValidationFailed, maxSearchLimit)
		}
	}
	return nil
}

func (p *SemanticSearch) Execute(ctx context.Context, ec *process.ExecutionContext) (process.Outcome, error) {
	if ec.Services == nil || ec.Services.Embeddings() == nil {
		return process.Failed("embeddings are not configured"), nil
	}

	query, _ := ec.Inputs.String("query")
	limit, ok := ec.Inputs.Int("limit")
	if !ok {
		limit = vectorstore.DefaultSearchLimit
	}
	var opts []vectorstore.SearchOption
	if only, _ := ec.Inputs.Bool("journey_only"); only {
		opts = append(opts, vectorstore.WithJourney(ec.JourneyID))
	}
	if minSim, ok := ec.Inputs.Number("min_similarity"); ok {
		opts = append(opts, vectorstore.WithMinSimilarity(minSim))
	}

	hits, err := ec.Services.Embeddings().Query(ctx, ec.TenantID, query, limit, opts...)
	if err != nil {
		return process.Outcome{}, fmt.Errorf("searching: %w", err)
	}

	out := make(value.List, len(hits))
	for i, h := range hits {
		out[i] = value.Map{
			"segment_id": value.String(h.SegmentID),
			"journey_id": value.String(h.JourneyID),
			"index_id":   value.String(h.IndexID),
			"similarity": value.Number(h.Similarity),
		}
	}
	return process.Succeeded(
		value.Map{"hits": out},
		value.Map{"count": value.Number(len(hits))},
	), nil
}
