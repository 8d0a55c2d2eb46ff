package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

func TestNew_DisabledProvider(t *testing.T) {
	p, err := New(config.EmbeddingsConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.EmbeddingsConfig{Provider: "openai"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_TEI(t *testing.T) {
	p, err := New(config.EmbeddingsConfig{
		Provider: "tei",
		Model:    "BAAI/bge-base-en-v1.5",
		BaseURL:  "http://localhost:8080",
	})
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimension())
}

func TestNew_TEIMissingURL(t *testing.T) {
	_, err := New(config.EmbeddingsConfig{Provider: "tei"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"custom/some-base-model", 768},
		{"custom/some-large-model", 1024},
		{"totally-unknown", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimension(tt.model))
		})
	}
}
