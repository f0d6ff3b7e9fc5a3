package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingOptions_Candidates(t *testing.T) {
	o := NewEmbeddingOptions()
	o.Provider = "openai"
	o.APIKey = "sk-test"
	o.Model = "text-embedding-3-small"
	o.Fallbacks = []ProviderOptions{{Provider: "ollama", Model: "nomic-embed-text"}, {Provider: " "}}

	c := o.Candidates()
	require.Len(t, c, 2)
	assert.Equal(t, "openai", c[0].Provider)
	assert.Equal(t, "sk-test", c[0].Config["api_key"])
	assert.Equal(t, "text-embedding-3-small", c[0].Config["embed_model"])
	assert.Equal(t, "ollama", c[1].Provider)
	assert.NotContains(t, c[1].Config, "api_key")
}

func TestEmbeddingOptions_Validate(t *testing.T) {
	o := NewEmbeddingOptions()
	assert.Empty(t, o.Validate())

	o.Fallbacks = []ProviderOptions{{}}
	assert.Len(t, o.Validate(), 1)
}

func TestChatOptions_Candidates(t *testing.T) {
	o := NewChatOptions()
	c := o.Candidates()
	require.Len(t, c, 1)
	assert.Equal(t, "llama3.1", c[0].Config["chat_model"])
	assert.Equal(t, 0.7, c[0].Config["temperature"])
	assert.Equal(t, 1000, c[0].Config["max_tokens"])
}

func TestChatOptions_Validate(t *testing.T) {
	o := NewChatOptions()
	o.Temperature = 3
	o.MaxTokens = 0
	assert.Len(t, o.Validate(), 2)
}

func TestTranscriptionOptions(t *testing.T) {
	o := NewTranscriptionOptions()
	assert.False(t, o.Enabled())
	assert.Empty(t, o.Validate())

	o.APIKey = "k"
	o.BaseURL = ""
	assert.True(t, o.Enabled())
	assert.Len(t, o.Validate(), 1)
}
