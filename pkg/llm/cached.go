package llm

import (
	"context"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/pkg/cache"
)

// CachedEmbeddingProvider 为 Embedding 供应商增加结果缓存。
// 缓存键由规范化文本、供应商和模型共同决定，切换模型不会命中旧向量。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	store    cache.Store[[]float32]
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding Provider。store 为 nil 时不缓存。
func NewCachedEmbeddingProvider(provider EmbeddingProvider, store cache.Store[[]float32]) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{
		provider: provider,
		store:    store,
	}
}

// Name 返回底层供应商名称。
func (c *CachedEmbeddingProvider) Name() string {
	return c.provider.Name()
}

// Model 返回底层模型名称。
func (c *CachedEmbeddingProvider) Model() string {
	return c.provider.Model()
}

// Dimension 透传底层供应商的维度（如有）。
func (c *CachedEmbeddingProvider) Dimension() int {
	if d, ok := c.provider.(Dimensioner); ok {
		return d.Dimension()
	}
	return 0
}

// Unwrap 返回被包装的供应商。
func (c *CachedEmbeddingProvider) Unwrap() EmbeddingProvider {
	return c.provider
}

// CacheKey 计算文本的缓存键。
func (c *CachedEmbeddingProvider) CacheKey(text string) string {
	return cache.HashKey(strings.ToLower(strings.TrimSpace(text)), c.provider.Name(), c.provider.Model())
}

// EmbedSingle 生成单个文本的 Embedding（带缓存）。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if c.store == nil {
		return c.provider.EmbedSingle(ctx, text)
	}

	key := c.CacheKey(text)
	if vec, ok, err := c.store.Get(ctx, key); err == nil && ok {
		logger.Debugw("embedding cache hit", "text_length", len(text))
		return vec, nil
	} else if err != nil {
		logger.Warnw("embedding cache get failed", "error", err.Error())
	}

	vec, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, vec); err != nil {
		logger.Warnw("embedding cache set failed", "error", err.Error())
	}
	return vec, nil
}

// Embed 批量生成 Embedding，只对未命中的文本调用底层供应商。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.store == nil || len(texts) == 0 {
		return c.provider.Embed(ctx, texts)
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		keys[i] = c.CacheKey(text)
		vec, ok, err := c.store.Get(ctx, keys[i])
		if err == nil && ok {
			results[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		logger.Debugw("embedding batch fully cached", "count", len(texts))
		return results, nil
	}

	vecs, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		if j >= len(missIdx) {
			break
		}
		i := missIdx[j]
		results[i] = vec
		if err := c.store.Set(ctx, keys[i], vec); err != nil {
			logger.Warnw("embedding cache set failed", "error", err.Error())
		}
	}

	logger.Debugw("embedding batch cache stats",
		"total", len(texts), "hits", len(texts)-len(missTexts), "misses", len(missTexts))
	return results, nil
}
