package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// 已知模型的向量维度，键为 "provider/model"。
var knownDimensions = map[string]int{
	"openai/text-embedding-3-small":                       1536,
	"openai/text-embedding-3-large":                       3072,
	"openai/text-embedding-ada-002":                       1536,
	"ollama/nomic-embed-text":                             768,
	"ollama/mxbai-embed-large":                            1024,
	"ollama/all-minilm":                                   384,
	"ollama/bge-m3":                                       1024,
	"huggingface/sentence-transformers/all-minilm-l6-v2":  384,
	"huggingface/sentence-transformers/all-mpnet-base-v2": 768,
	"huggingface/baai/bge-small-en-v1.5":                  384,
	"huggingface/baai/bge-base-en-v1.5":                   768,
	"local/hashing-384":                                   384,
}

var (
	measuredMu sync.RWMutex
	measured   = make(map[string]int)
)

func dimensionKey(provider, model string) string {
	return strings.ToLower(provider) + "/" + strings.ToLower(model)
}

// KnownDimension 查表返回模型维度。
func KnownDimension(provider, model string) (int, bool) {
	key := dimensionKey(provider, model)
	if d, ok := knownDimensions[key]; ok {
		return d, true
	}
	measuredMu.RLock()
	defer measuredMu.RUnlock()
	d, ok := measured[key]
	return d, ok
}

// Dimensioner 可直接报告自身维度的供应商。
type Dimensioner interface {
	Dimension() int
}

// Dimension 返回供应商当前模型的向量维度。
// 查表未命中时发起一次探测请求，并缓存测得的结果。
func Dimension(ctx context.Context, p EmbeddingProvider) (int, error) {
	if d, ok := p.(Dimensioner); ok && d.Dimension() > 0 {
		return d.Dimension(), nil
	}
	if d, ok := KnownDimension(p.Name(), p.Model()); ok {
		return d, nil
	}

	vec, err := p.EmbedSingle(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension for %s/%s: %w", p.Name(), p.Model(), err)
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("probe embedding dimension for %s/%s: empty vector", p.Name(), p.Model())
	}

	measuredMu.Lock()
	measured[dimensionKey(p.Name(), p.Model())] = len(vec)
	measuredMu.Unlock()
	return len(vec), nil
}

// Compatibility 内容向量与当前供应商的兼容性检查结果。
type Compatibility struct {
	Compatible        bool `json:"compatible"`
	ActualDimension   int  `json:"actual_dimension"`
	ExpectedDimension int  `json:"expected_dimension"`
	NeedsReindexing   bool `json:"needs_reindexing"`
}

// CheckCompatibility 比较已存储的维度与当前供应商维度。
// actual 为 0 表示尚未索引，此时视为兼容且无需重建。
func CheckCompatibility(actual, expected int) Compatibility {
	c := Compatibility{
		ActualDimension:   actual,
		ExpectedDimension: expected,
	}
	if actual == 0 || actual == expected {
		c.Compatible = true
		return c
	}
	c.NeedsReindexing = true
	return c
}
