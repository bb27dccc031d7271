package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/waypoint/internal/process"
	"github.com/fyrsmithlabs/waypoint/internal/value"
)

const summarySystemPrompt = "You summarize customer journey notes for analysts. Be factual and concise."

var journeySummarySchema = process.InputSchema{
	{Name: "texts", Kind: value.KindList, Required: true, Description: "journey texts to summarize"},
	{Name: "instructions", Kind: value.KindString, Description: "extra guidance for the summary"},
}

// JourneySummary summarizes journey texts with the configured LLM.
type JourneySummary struct{}

func (p *JourneySummary) Descriptor() process.Descriptor {
	return process.Descriptor{
		ID:          JourneySummaryID,
		Name:        "Journey summary",
		Category:    process.CategoryAnalysis,
		Description: "Summarizes the provided journey texts using the text generator.",
		InputSchema: journeySummarySchema,
	}
}

func (p *JourneySummary) Validate(inputs value.Map) error {
	if err := journeySummarySchema.Validate(inputs); err != nil {
		return err
	}
	texts, ok := inputs.StringList("texts")
	if !ok || len(texts) == 0 {
		return fmt.Errorf("%w: texts must be a non-empty list of strings", process.ErrValidationFailed)
	}
	return nil
}

func (p *JourneySummary) Execute(ctx context.Context, ec *process.ExecutionContext) (process.Outcome, error) {
	if ec.Services == nil || ec.Services.Text() == nil {
		return process.Failed("text generation is not configured"), nil
	}

	texts, _ := ec.Inputs.StringList("texts")
	var b strings.Builder
	if instr, _ := ec.Inputs.String("instructions"); instr != "" {
		b.WriteString(instr)
		b.WriteString("\n\n")
	}
	b.WriteString("Summarize the following notes:\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t)
	}

	ec.Report(ctx, 10, "generating summary")
	summary, err := ec.Services.Text().GenerateText(ctx, b.String(), summarySystemPrompt)
	if err != nil {
		return process.Outcome{}, fmt.Errorf("generating summary: %w", err)
	}
	ec.Report(ctx, 100, "summary ready")

	return process.Succeeded(
		value.Map{"summary": value.String(strings.TrimSpace(summary))},
		value.Map{"source_count": value.Number(len(texts))},
	), nil
}
