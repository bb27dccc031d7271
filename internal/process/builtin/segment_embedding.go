package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/embeddings"
	"github.com/fyrsmithlabs/waypoint/internal/process"
	"github.com/fyrsmithlabs/waypoint/internal/value"
	"github.com/fyrsmithlabs/waypoint/internal/vectorstore"
	"go.uber.org/zap"
)

var segmentEmbeddingSchema = process.InputSchema{
	{Name: "segments", Kind: value.KindList, Required: true, Description: "list of {id, text} objects"},
}

// SegmentEmbedding embeds journey segments into the tenant's vector store.
// Segments already embedded with the current model are skipped.
type SegmentEmbedding struct{}

func (p *SegmentEmbedding) Descriptor() process.Descriptor {
	return process.Descriptor{
		ID:          SegmentEmbeddingID,
		Name:        "Segment embedding",
		Category:    process.CategoryEmbedding,
		Description: "Embeds text segments and stores them in the tenant's vector shards.",
		InputSchema: segmentEmbeddingSchema,
	}
}

type segment struct {
	id   string
	text string
}

func parseSegments(inputs value.Map) ([]segment, error) {
	list, _ := inputs.List("segments")
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: segments cannot be empty", process.ErrValidationFailed)
	}
	out := make([]segment, 0, len(list))
	for i, item := range list {
		m, ok := item.(value.Map)
		if !ok {
			return nil, fmt.Errorf("%w: segments[%d] must be a map", process.ErrValidationFailed, i)
		}
		id, _ := m.String("id")
		text, _ := m.String("text")
		if id == "" || text == "" {
			return nil, fmt.Errorf("%w: segments[%d] needs id and text", process.ErrValidationFailed, i)
		}
		out = append(out, segment{id: id, text: text})
	}
	return out, nil
}

func (p *SegmentEmbedding) Validate(inputs value.Map) error {
	if err := segmentEmbeddingSchema.Validate(inputs); err != nil {
		return err
	}
	_, err := parseSegments(inputs)
	return err
}

func (p *SegmentEmbedding) Execute(ctx context.Context, ec *process.ExecutionContext) (process.Outcome, error) {
	if ec.Services == nil || ec.Services.Embeddings() == nil {
		return process.Failed("embeddings are not configured"), nil
	}
	embedder := ec.Services.Embeddings()

	segments, err := parseSegments(ec.Inputs)
	if err != nil {
		return process.Outcome{}, err
	}

	var (
		indexIDs value.List
		skipped  value.List
	)
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return process.Outcome{}, err
		}
		res, err := embedder.Generate(ctx, embeddings.GenerateRequest{
			TenantID:  ec.TenantID,
			SegmentID: seg.id,
			JourneyID: ec.JourneyID,
			Text:      seg.text,
		})
		switch {
		case errors.Is(err, vectorstore.ErrDuplicateEmbedding):
			skipped = append(skipped, value.String(seg.id))
		case err != nil:
			return process.Outcome{}, fmt.Errorf("embedding segment %s: %w", seg.id, err)
		default:
			indexIDs = append(indexIDs, value.String(res.IndexID))
		}
		ec.Report(ctx, (i+1)*100/len(segments), fmt.Sprintf("embedded %d/%d segments", i+1, len(segments)))
	}

	ec.Log().Debug("segments embedded",
		zap.Int("stored", len(indexIDs)),
		zap.Int("skipped", len(skipped)))

	return process.Succeeded(
		value.Map{
			"stored":    value.Number(len(indexIDs)),
			"index_ids": indexIDs,
			"skipped":   skipped,
		},
		value.Map{"model": value.String(embedder.Model())},
	), nil
}
