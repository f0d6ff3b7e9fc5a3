// Package deepseek 注册 DeepSeek 对话供应商。
//
// DeepSeek 提供 OpenAI 兼容的对话接口但没有 Embedding 接口，
// 因此只注册 Chat 能力；出现在 Embedding 候选列表中时会被能力检查跳过。
package deepseek

import (
	"github.com/kart-io/sentinel-kb/pkg/llm"
	"github.com/kart-io/sentinel-kb/pkg/llm/openai"
)

// ProviderName 供应商名称。
const ProviderName = "deepseek"

const (
	defaultBaseURL   = "https://api.deepseek.com/v1"
	defaultChatModel = "deepseek-chat"
)

func init() {
	llm.RegisterChatProvider(ProviderName, NewProvider)
}

// NewProvider 创建 DeepSeek 对话供应商，api_key 必填。
func NewProvider(configMap map[string]any) (llm.ChatProvider, error) {
	merged := map[string]any{
		"base_url":   defaultBaseURL,
		"chat_model": defaultChatModel,
	}
	for k, v := range configMap {
		merged[k] = v
	}

	cfg, err := openai.ParseConfig(merged)
	if err != nil {
		return nil, err
	}
	cfg.Name = ProviderName
	cfg.EmbedModel = ""
	return openai.NewProviderWithConfig(cfg), nil
}
