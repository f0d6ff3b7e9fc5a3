package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
	"github.com/kart-io/sentinel-kb/pkg/llm"
)

func TestRegistered(t *testing.T) {
	p, err := llm.NewEmbeddingProvider(ProviderName, map[string]any{"dimension": 64})
	require.NoError(t, err)
	assert.Equal(t, "hashing-64", p.Model())

	d, err := llm.Dimension(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 64, d)
}

func TestNew_RejectsInvalidDimension(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestEmbed_DeterministicAndNormalized(t *testing.T) {
	p, err := New(DefaultDimension)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := p.EmbedSingle(ctx, "The return policy allows 30-day refunds.")
	require.NoError(t, err)
	b, err := p.EmbedSingle(ctx, "The return policy allows 30-day refunds.")
	require.NoError(t, err)

	assert.Len(t, a, DefaultDimension)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, textutil.CosineSimilarity(a, a), 1e-6)
}

func TestEmbed_RelatedTextsAreCloser(t *testing.T) {
	p, err := New(DefaultDimension)
	require.NoError(t, err)
	ctx := context.Background()

	vecs, err := p.Embed(ctx, []string{
		"The return policy allows 30-day refunds.",
		"What is the return window?",
		"Kubernetes schedules pods onto nodes.",
	})
	require.NoError(t, err)

	related := textutil.CosineSimilarity(vecs[0], vecs[1])
	unrelated := textutil.CosineSimilarity(vecs[2], vecs[1])
	assert.Greater(t, related, 0.3)
	assert.Greater(t, related, unrelated)
}

func TestEmbed_EmptyTextIsZeroVector(t *testing.T) {
	p, err := New(8)
	require.NoError(t, err)
	v, err := p.EmbedSingle(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

func TestEmbed_CancelledContext(t *testing.T) {
	p, _ := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Embed(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
