//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned by the fastembed provider in binaries
// built with CGO_ENABLED=0, where the ONNX runtime cannot be linked.
var ErrFastEmbedNotAvailable = errors.New("fastembed requires a cgo build; configure the tei or openai provider")

// FastEmbedConfig mirrors the cgo build so config wiring compiles either way.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider never constructs without cgo.
type FastEmbedProvider struct{}

func NewFastEmbedProvider(FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Model() string  { return "" }
func (*FastEmbedProvider) Dimension() int { return 0 }
func (*FastEmbedProvider) Close() error   { return nil }
