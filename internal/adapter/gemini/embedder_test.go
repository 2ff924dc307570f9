package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbedBatch_EmptyInput(t *testing.T) {
	e := NewEmbedder(nil, "key", 100)
	out, err := e.EmbedBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestEmbedBatch_MissingKey(t *testing.T) {
	e := NewEmbedder(nil, "", 100)
	_, err := e.EmbedBatch(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestEmbed_MissingKey(t *testing.T) {
	e := NewEmbedder(nil, "", 100)
	_, err := e.Embed(context.Background(), "query")
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestNewEmbedder_BatchSizeFloor(t *testing.T) {
	e := NewEmbedder(nil, "key", 0)
	assert.Equal(t, 100, e.batchSize)
}
