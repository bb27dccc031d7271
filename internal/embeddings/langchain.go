package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainConfig configures an OpenAI-compatible embeddings endpoint such
// as Text Embeddings Inference.
type LangchainConfig struct {
	// BaseURL, e.g. http://localhost:8080/v1 for TEI.
	BaseURL string
	Model   string
	// APIKey is optional for TEI.
	APIKey string
	// Dimension overrides the size inferred from the model name.
	Dimension int
	// BatchSize caps texts per request; TEI rejects large batches.
	BatchSize int
}

const defaultLangchainBatchSize = 32

// Validate checks required fields.
func (c LangchainConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// LangchainProvider embeds through langchaingo's OpenAI client.
type LangchainProvider struct {
	embedder  *embeddings.EmbedderImpl
	model     string
	dimension int
}

// NewLangchainProvider creates the provider. No request is made until the
// first Embed call.
func NewLangchainProvider(cfg LangchainConfig) (*LangchainProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// langchaingo requires a token even when the server ignores it.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultLangchainBatchSize
	}
	embedder, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(batch),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = DetectDimension(cfg.Model)
	}
	return &LangchainProvider{embedder: embedder, model: cfg.Model, dimension: dim}, nil
}

func (p *LangchainProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

func (p *LangchainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

func (p *LangchainProvider) Model() string  { return p.model }
func (p *LangchainProvider) Dimension() int { return p.dimension }

// Close is a no-op; the client is plain HTTP.
func (p *LangchainProvider) Close() error { return nil }
