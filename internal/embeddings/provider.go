package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/waypoint/internal/config"
	"github.com/fyrsmithlabs/waypoint/internal/provider"
	"go.uber.org/zap"
)

// Provider generates embeddings for a fixed model.
type Provider interface {
	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model is the model name recorded alongside stored vectors.
	Model() string
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// QueryEmbedder is implemented by providers that embed search queries
// differently from documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ProviderParams is passed to provider factories.
type ProviderParams struct {
	Config config.EmbeddingsConfig
	Logger *zap.Logger
}

// NewProviderRegistry returns a registry with every built-in provider.
func NewProviderRegistry() *provider.Registry[ProviderParams, Provider] {
	r := provider.NewRegistry[ProviderParams, Provider]("embeddings")
	r.MustRegister("fastembed", func(_ context.Context, p ProviderParams) (Provider, error) {
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    p.Config.Model,
			CacheDir: p.Config.CacheDir,
		})
	})
	r.MustRegister("tei", func(_ context.Context, p ProviderParams) (Provider, error) {
		return NewLangchainProvider(LangchainConfig{
			BaseURL:   p.Config.BaseURL,
			Model:     p.Config.Model,
			APIKey:    p.Config.APIKey.Value(),
			Dimension: p.Config.Dimensions,
		})
	})
	r.MustRegister("openai", func(_ context.Context, p ProviderParams) (Provider, error) {
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:    p.Config.BaseURL,
			Model:      p.Config.Model,
			APIKey:     p.Config.APIKey.Value(),
			Dimensions: p.Config.Dimensions,
		})
	})
	return r
}

// knownDimensions maps common embedding models to their output size.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}

// DetectDimension returns the embedding dimension for a model name,
// falling back to naming conventions and finally 384.
func DetectDimension(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "base"):
		return 768
	case strings.Contains(lower, "large"):
		return 1024
	default:
		return 384
	}
}

func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return nil
}
