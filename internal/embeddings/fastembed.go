//go:build cgo

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/fyrsmithlabs/waypoint/internal/config"
)

const (
	defaultFastEmbedModel     = "BAAI/bge-small-en-v1.5"
	defaultFastEmbedMaxLength = 512
	fastEmbedBatchSize        = 256
)

// errFastEmbedClosed is returned after Close.
var errFastEmbedClosed = errors.New("fastembed provider is closed")

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	// Model defaults to BAAI/bge-small-en-v1.5 (384 dimensions).
	Model string
	// CacheDir holds downloaded model files; "~" is expanded.
	CacheDir  string
	MaxLength int
}

// fastEmbedModels lists the models fastembed-go ships, keyed by the names
// operators put in config.
var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// FastEmbedProvider embeds in-process with a local ONNX model. Documents
// and queries use the BGE "passage:"/"query:" prefixes.
type FastEmbedProvider struct {
	name string
	dim  int

	mu    sync.RWMutex
	model *fastembed.FlagEmbedding
}

// NewFastEmbedProvider loads the model, downloading it into CacheDir on
// first use.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	name := cfg.Model
	if name == "" {
		name = defaultFastEmbedModel
	}
	model, ok := fastEmbedModels[name]
	if !ok {
		return nil, fmt.Errorf("%w: fastembed does not ship model %q", ErrInvalidConfig, name)
	}

	cacheDir, err := config.ExpandPath(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("%w: cache dir: %v", ErrInvalidConfig, err)
	}
	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = defaultFastEmbedMaxLength
	}

	quiet := false
	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("loading fastembed model %s: %w", name, err)
	}
	return &FastEmbedProvider{name: name, dim: DetectDimension(name), model: fe}, nil
}

// Embed embeds documents.
func (p *FastEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	var out [][]float32
	err := p.withModel(ctx, func(m *fastembed.FlagEmbedding) (err error) {
		out, err = m.PassageEmbed(texts, fastEmbedBatchSize)
		return err
	})
	return out, err
}

// EmbedQuery embeds a search query.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: query text cannot be empty", ErrEmptyInput)
	}
	var out []float32
	err := p.withModel(ctx, func(m *fastembed.FlagEmbedding) (err error) {
		out, err = m.QueryEmbed(text)
		return err
	})
	return out, err
}

// withModel runs fn under the read lock so Close cannot free the ONNX
// session mid-call.
func (p *FastEmbedProvider) withModel(ctx context.Context, fn func(*fastembed.FlagEmbedding) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return errFastEmbedClosed
	}
	if err := fn(p.model); err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return nil
}

func (p *FastEmbedProvider) Model() string  { return p.name }
func (p *FastEmbedProvider) Dimension() int { return p.dim }

// Close frees the ONNX session. It is safe to call more than once.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
