package biz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/internal/kb/biz"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/errors"
)

func TestSearcher_ThresholdIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.addText(t, "acme", "one", "return")
	h.addText(t, "acme", "two", "return refund")
	h.addText(t, "acme", "three", "return refund policy")
	h.addText(t, "acme", "four", "shipping")

	ctx := context.Background()
	prev := -1
	for _, th := range []float64{0, 0.3, 0.6, 0.8, 0.95} {
		results, err := h.searcher.Search(ctx, biz.SearchQuery{
			Query:     "return refund policy window",
			TenantID:  "acme",
			Mode:      model.SearchVector,
			Limit:     10,
			Threshold: threshold(th),
		})
		require.NoError(t, err)
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Score, th)
		}
		if prev >= 0 {
			assert.LessOrEqual(t, len(results), prev, "threshold %.2f", th)
		}
		prev = len(results)
	}
	assert.Zero(t, prev)
}

func TestSearcher_VectorResultsAreSortedAndUnique(t *testing.T) {
	h := newHarness(t)
	h.addText(t, "acme", "one", "return")
	h.addText(t, "acme", "three", "return refund policy")

	results, err := h.searcher.Search(context.Background(), biz.SearchQuery{
		Query:     "return refund policy",
		TenantID:  "acme",
		Mode:      model.SearchVector,
		Threshold: threshold(0),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "three", results[0].Title)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.NotEqual(t, results[0].ItemID, results[1].ItemID)
}

func TestSearcher_TenantAndACLIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addText(t, "globex", "Theirs", "return refund policy")

	item, err := h.ingestor.CreateItem(ctx, &biz.CreateItemRequest{
		Title:    "Agent only",
		TenantID: "acme",
		AgentIDs: []string{"agent-1"},
		Text:     "return refund policy",
		Ingest:   true,
	})
	require.NoError(t, err)
	h.pool.Wait()

	for _, mode := range []model.SearchMode{model.SearchVector, model.SearchText, model.SearchHybrid} {
		results, err := h.searcher.Search(ctx, biz.SearchQuery{Query: "refund policy", TenantID: "acme", AgentIDs: []string{"agent-2"}, Mode: mode})
		require.NoError(t, err)
		assert.Empty(t, results, mode)

		results, err = h.searcher.Search(ctx, biz.SearchQuery{Query: "refund policy", TenantID: "acme", AgentIDs: []string{"agent-1"}, Mode: mode})
		require.NoError(t, err)
		require.Len(t, results, 1, mode)
		assert.Equal(t, item.ID, results[0].ItemID)
	}
}

func TestSearcher_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.searcher.Search(ctx, biz.SearchQuery{Query: "  ", TenantID: "acme"})
	assert.ErrorIs(t, err, errors.ErrKBInvalidRequest)

	_, err = h.searcher.Search(ctx, biz.SearchQuery{Query: "refund"})
	assert.ErrorIs(t, err, errors.ErrKBTenantRequired)

	_, err = h.searcher.Search(ctx, biz.SearchQuery{Query: "refund", TenantID: "acme", Mode: "fuzzy"})
	assert.ErrorIs(t, err, errors.ErrKBInvalidRequest)

	results, err := h.searcher.Search(ctx, biz.SearchQuery{Query: "refund", TenantID: "empty-tenant"})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearcher_HybridDegradesWhenVectorFails(t *testing.T) {
	h := newHarness(t)
	item := h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")

	h.embedder.setFail(assert.AnError)
	results, err := h.searcher.Search(context.Background(), biz.SearchQuery{Query: "return policy", TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, item.ID, results[0].ItemID)
	assert.Zero(t, results[0].VectorScore)

	_, err = h.searcher.Search(context.Background(), biz.SearchQuery{Query: "return window", TenantID: "acme", Mode: model.SearchVector})
	assert.ErrorIs(t, err, errors.ErrKBEmbeddingFailed)
}

func TestSearcher_NewContentInvalidatesCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")

	q := biz.SearchQuery{Query: "refund policy", TenantID: "acme"}
	first, err := h.searcher.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 1)

	h.addText(t, "acme", "Refund desk", "Refund policy questions go to the refund desk.")
	second, err := h.searcher.Search(ctx, q)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestSearcher_InvalidateTenantIsExact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, tenant := range []string{"a", "a:b", "a*"} {
		h.addText(t, tenant, "Returns", "The return policy allows 30-day refunds.")
		_, err := h.searcher.Search(ctx, biz.SearchQuery{Query: "refund policy", TenantID: tenant})
		require.NoError(t, err)
	}
	require.Equal(t, 3, h.results.Stats(ctx).Size)

	h.searcher.InvalidateTenant(ctx, "a")
	assert.Equal(t, 2, h.results.Stats(ctx).Size)

	h.searcher.InvalidateTenant(ctx, "a:b")
	h.searcher.InvalidateTenant(ctx, "a*")
	assert.Equal(t, 0, h.results.Stats(ctx).Size)
}

func TestSearcher_DimensionMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	item := h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")

	narrow := &keywordEmbedder{vocab: []string{"return", "refund", "policy"}, model: "keywords-narrow"}
	searcher := biz.NewSearcher(h.items, h.chunks, narrow, nil, biz.DefaultSearchConfig())

	results, err := searcher.Search(ctx, biz.SearchQuery{Query: "return policy", TenantID: "acme", Mode: model.SearchVector})
	require.NoError(t, err)
	assert.Empty(t, results)

	compat, err := searcher.CheckCompatibility(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, compat.Compatible)
	assert.True(t, compat.NeedsReindexing)
	assert.Equal(t, len(vocabulary), compat.ActualDimension)
	assert.Equal(t, 3, compat.ExpectedDimension)
	assert.Equal(t, "keywords-v1", compat.ItemModel)
	assert.Equal(t, "keywords-narrow", compat.CurrentModel)

	compat, err = h.searcher.CheckCompatibility(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, compat.Compatible)
}

func TestMergeHybrid(t *testing.T) {
	vector := []model.SearchResult{
		{ItemID: "a", Score: 0.5, Text: "short"},
		{ItemID: "b", Score: 0.5, Text: "b vector"},
		{ItemID: "c", Score: 0.9, Text: "c"},
	}
	text := []model.SearchResult{
		{ItemID: "c", Score: 1.0, Text: "c with a much longer lexical snippet"},
		{ItemID: "d", Score: 0.2, Text: "d"},
	}

	merged := biz.MergeHybrid(vector, text, 0.7, 0.3, 10)
	require.Len(t, merged, 4)

	assert.Equal(t, "c", merged[0].ItemID)
	assert.InDelta(t, 0.7*0.9+0.3*1.0, merged[0].Score, 1e-9)
	assert.InDelta(t, 0.9, merged[0].VectorScore, 1e-9)
	assert.InDelta(t, 1.0, merged[0].TextScore, 1e-9)
	assert.Equal(t, "c with a much longer lexical snippet", merged[0].Text)

	// Equal combined scores keep the vector order.
	assert.Equal(t, "a", merged[1].ItemID)
	assert.Equal(t, "b", merged[2].ItemID)
	assert.Equal(t, "d", merged[3].ItemID)
	assert.InDelta(t, 0.06, merged[3].Score, 1e-9)

	assert.Len(t, biz.MergeHybrid(vector, text, 0.7, 0.3, 2), 2)
	assert.Empty(t, biz.MergeHybrid(nil, nil, 0.7, 0.3, 5))
}

func TestSearcher_SearchHonoursDeadline(t *testing.T) {
	h := newHarness(t)
	h.addText(t, "acme", "Returns", "The return policy allows 30-day refunds.")

	release := h.embedder.block()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.searcher.Search(ctx, biz.SearchQuery{Query: "return window", TenantID: "acme", Mode: model.SearchVector})
	assert.ErrorIs(t, err, errors.ErrKBQueryTimeout)
}
