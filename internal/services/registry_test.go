package services

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/waypoint/internal/embeddings"
	"github.com/fyrsmithlabs/waypoint/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubText struct{}

func (stubText) GenerateText(context.Context, string, string) (string, error) { return "ok", nil }

func TestRegistryAccessors(t *testing.T) {
	reg := NewRegistry(Options{})
	assert.Nil(t, reg.Embeddings())
	assert.Nil(t, reg.Text())
	assert.Nil(t, reg.Scrubber())
}

func TestRegistryWithServices(t *testing.T) {
	scrubber, err := secrets.New(secrets.Config{})
	require.NoError(t, err)

	var text embeddings.TextGenerator = stubText{}
	reg := NewRegistry(Options{Text: text, Scrubber: scrubber})

	assert.Same(t, scrubber, reg.Scrubber())
	out, err := reg.Text().GenerateText(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
