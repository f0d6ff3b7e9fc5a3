package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownDimension(t *testing.T) {
	d, ok := KnownDimension("openai", "text-embedding-3-small")
	assert.True(t, ok)
	assert.Equal(t, 1536, d)

	d, ok = KnownDimension("HuggingFace", "sentence-transformers/all-MiniLM-L6-v2")
	assert.True(t, ok)
	assert.Equal(t, 384, d)

	_, ok = KnownDimension("ollama", "unknown-model")
	assert.False(t, ok)
}

func TestDimension_ProbesUnknownModelOnce(t *testing.T) {
	p := &mockProvider{name: "probe-test", model: "custom"}

	d, err := Dimension(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, d)
	assert.Equal(t, 1, p.calls)

	d, err = Dimension(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, d)
	assert.Equal(t, 1, p.calls, "second lookup must come from the measured table")
}

func TestCheckCompatibility(t *testing.T) {
	assert.Equal(t, Compatibility{Compatible: true, ActualDimension: 384, ExpectedDimension: 384}, CheckCompatibility(384, 384))
	assert.Equal(t, Compatibility{Compatible: false, ActualDimension: 1536, ExpectedDimension: 384, NeedsReindexing: true}, CheckCompatibility(1536, 384))
	assert.True(t, CheckCompatibility(0, 384).Compatible)
}
