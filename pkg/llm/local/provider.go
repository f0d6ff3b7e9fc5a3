// Package local 提供无需网络的哈希 Embedding 供应商。
//
// 文本按词切分后通过特征哈希映射到固定维度，词频取 1+ln(tf)，结果做 L2 归一化。
// 相同输入总是得到相同向量，适合离线开发、测试以及远程供应商全部不可用时兜底。
package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
	"github.com/kart-io/sentinel-kb/pkg/llm"
)

// ProviderName 本地供应商名称。
const ProviderName = llm.LocalProviderName

// DefaultDimension 默认向量维度。
const DefaultDimension = 384

func init() {
	llm.RegisterEmbeddingProvider(ProviderName, func(config map[string]any) (llm.EmbeddingProvider, error) {
		dim := DefaultDimension
		if d, ok := llm.ConfigInt(config, "dimension"); ok {
			dim = d
		}
		return New(dim)
	})
}

// Provider 特征哈希 Embedding 供应商。
type Provider struct {
	dim int
}

// New 创建指定维度的本地供应商。
func New(dim int) (*Provider, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("local: dimension must be positive, got %d", dim)
	}
	return &Provider{dim: dim}, nil
}

// Name 返回供应商名称。
func (p *Provider) Name() string { return ProviderName }

// Model 返回模型名称，包含维度以区分不同配置。
func (p *Provider) Model() string { return fmt.Sprintf("hashing-%d", p.dim) }

// Dimension 返回向量维度。
func (p *Provider) Dimension() int { return p.dim }

// Embed 批量生成向量。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

// EmbedSingle 生成单个文本的向量。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

func (p *Provider) vector(text string) []float32 {
	counts := make(map[string]int)
	for _, tok := range textutil.Tokenize(text) {
		counts[tok]++
	}

	vec := make([]float32, p.dim)
	for tok, tf := range counts {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(p.dim)] += float32(1 + math.Log(float64(tf)))
	}
	return textutil.Normalize(vec)
}
