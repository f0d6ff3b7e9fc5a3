package huggingface

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/pkg/llm"
)

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(map[string]any{})
	assert.Error(t, err)
}

func TestRegisteredAsEmbeddingOnly(t *testing.T) {
	assert.True(t, llm.SupportsEmbedding(ProviderName))
	assert.False(t, llm.SupportsChat(ProviderName))
}

func TestEmbed_SentenceVectors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2", r.URL.Path)
		assert.Equal(t, "Bearer hf", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[[0.1,0.2],[0.3,0.4]]`)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.APIKey = "hf"
	cfg.MaxRetries = 0

	out, err := NewProviderWithConfig(cfg).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, out)
}

func TestEmbed_TokenVectorsAreMeanPooled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[[[1,2],[3,4]]]`)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.APIKey = "hf"
	cfg.MaxRetries = 0

	out, err := NewProviderWithConfig(cfg).EmbedSingle(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, out)
}
