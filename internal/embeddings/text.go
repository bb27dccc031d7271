package embeddings

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/waypoint/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

// TextGenerator produces free text from a prompt. Processes reach it
// through their services handle.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// LLMTextGenerator calls an OpenAI-compatible chat endpoint through
// langchaingo.
type LLMTextGenerator struct {
	llm     llms.Model
	limiter *rate.Limiter
}

// NewTextGenerator builds a generator from the llm config section.
func NewTextGenerator(cfg config.LLMConfig) (*LLMTextGenerator, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: llm base_url and model are required", ErrInvalidConfig)
	}
	token := cfg.APIKey.Value()
	if token == "" {
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	return &LLMTextGenerator{llm: llm, limiter: rate.NewLimiter(rate.Limit(2), 4)}, nil
}

// NewTextGeneratorFromModel wraps an existing langchaingo model.
func NewTextGeneratorFromModel(llm llms.Model) *LLMTextGenerator {
	return &LLMTextGenerator{llm: llm, limiter: rate.NewLimiter(rate.Inf, 1)}
}

func (g *LLMTextGenerator) GenerateText(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt cannot be empty", ErrEmptyInput)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	resp, err := g.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generating text: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generating text: empty response")
	}
	return resp.Choices[0].Content, nil
}
