// Package huggingface 提供 HuggingFace Inference API 的 Embedding 供应商。
//
// 只注册 Embedding 能力：对话生成不走该供应商。
package huggingface

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/sentinel-kb/pkg/llm"
	"github.com/kart-io/sentinel-kb/pkg/utils/httpclient"
	"github.com/kart-io/sentinel-kb/pkg/utils/json"
)

// ProviderName 供应商名称。
const ProviderName = "huggingface"

func init() {
	llm.RegisterEmbeddingProvider(ProviderName, NewProvider)
}

// Config HuggingFace 供应商配置。
type Config struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	APIKey     string        `json:"api_key" mapstructure:"api_key"`
	EmbedModel string        `json:"embed_model" mapstructure:"embed_model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`

	// WaitForModel 模型冷启动时等待加载，而不是直接返回 503。
	WaitForModel bool `json:"wait_for_model" mapstructure:"wait_for_model"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://api-inference.huggingface.co",
		EmbedModel:   "sentence-transformers/all-MiniLM-L6-v2",
		Timeout:      120 * time.Second,
		MaxRetries:   3,
		WaitForModel: true,
	}
}

// Provider HuggingFace Embedding 供应商。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProvider 从配置 map 创建供应商，api_key 必填。
func NewProvider(configMap map[string]any) (llm.EmbeddingProvider, error) {
	cfg := DefaultConfig()

	if v := llm.ConfigString(configMap, "base_url"); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}
	if v := llm.ConfigString(configMap, "api_key"); v != "" {
		cfg.APIKey = v
	}
	if v := llm.ConfigString(configMap, "embed_model"); v != "" {
		cfg.EmbedModel = v
	} else if v := llm.ConfigString(configMap, "model"); v != "" {
		cfg.EmbedModel = v
	}
	if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
		cfg.Timeout = v
	}
	if v, ok := llm.ConfigInt(configMap, "max_retries"); ok && v >= 0 {
		cfg.MaxRetries = v
	}
	if v, ok := configMap["wait_for_model"].(bool); ok {
		cfg.WaitForModel = v
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("huggingface: api_key 是必需的")
	}

	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout, cfg.MaxRetries),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// Model 返回 Embedding 模型名称。
func (p *Provider) Model() string {
	return p.config.EmbedModel
}

type embeddingRequest struct {
	Inputs  []string          `json:"inputs"`
	Options *embeddingOptions `json:"options,omitempty"`
}

type embeddingOptions struct {
	WaitForModel bool `json:"wait_for_model,omitempty"`
}

// Embed 为多个文本生成向量嵌入。
// 部分模型返回逐 token 的向量，此时做均值池化得到句向量。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{Inputs: texts}
	if p.config.WaitForModel {
		reqBody.Options = &embeddingOptions{WaitForModel: true}
	}

	url := fmt.Sprintf("%s/pipeline/feature-extraction/%s", p.config.BaseURL, p.config.EmbedModel)
	headers := map[string]string{"Authorization": "Bearer " + p.config.APIKey}

	var raw json.RawMessage
	if err := p.client.PostJSON(ctx, url, headers, reqBody, &raw); err != nil {
		return nil, fmt.Errorf("huggingface embed: %w", err)
	}

	embeddings, err := decodeEmbeddings(raw)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("huggingface embed: 期望 %d 个向量，实际 %d 个", len(texts), len(embeddings))
	}
	return embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func decodeEmbeddings(raw []byte) ([][]float32, error) {
	var sentence [][]float32
	if err := json.Unmarshal(raw, &sentence); err == nil {
		return sentence, nil
	}

	var tokens [][][]float32
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	out := make([][]float32, len(tokens))
	for i, toks := range tokens {
		out[i] = meanPool(toks)
	}
	return out, nil
}

func meanPool(tokens [][]float32) []float32 {
	if len(tokens) == 0 {
		return nil
	}
	pooled := make([]float32, len(tokens[0]))
	for _, tok := range tokens {
		for j := 0; j < len(pooled) && j < len(tok); j++ {
			pooled[j] += tok[j]
		}
	}
	for j := range pooled {
		pooled[j] /= float32(len(tokens))
	}
	return pooled
}
