// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-kb/pkg/llm"
	"github.com/kart-io/sentinel-kb/pkg/options"
)

var (
	_ options.IOptions = (*EmbeddingOptions)(nil)
	_ options.IOptions = (*ChatOptions)(nil)
	_ options.IOptions = (*TranscriptionOptions)(nil)
)

// ProviderOptions 定义单个候选供应商的配置。
type ProviderOptions struct {
	// Provider 供应商名称（openai, ollama, huggingface, deepseek, local）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址，空值使用供应商默认地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称，空值使用供应商默认模型。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// Dimension 仅用于 local 供应商。
	Dimension int `json:"dimension" mapstructure:"dimension"`
}

func (o *ProviderOptions) baseConfig() map[string]any {
	cfg := map[string]any{
		"max_retries": o.MaxRetries,
	}
	if o.BaseURL != "" {
		cfg["base_url"] = o.BaseURL
	}
	if o.APIKey != "" {
		cfg["api_key"] = o.APIKey
	}
	if o.Timeout > 0 {
		cfg["timeout"] = o.Timeout
	}
	if o.Organization != "" {
		cfg["organization"] = o.Organization
	}
	if o.Dimension > 0 {
		cfg["dimension"] = o.Dimension
	}
	return cfg
}

func (o *ProviderOptions) addFlags(fs *pflag.FlagSet, p string) {
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Provider name (openai, ollama, huggingface, deepseek, local).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Provider API base URL.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Provider API key.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Maximum number of retries.")
}

// EmbeddingOptions Embedding 候选供应商列表。
// Provider 字段为首选候选，Fallbacks 仅能通过配置文件设置。
type EmbeddingOptions struct {
	ProviderOptions `mapstructure:",squash"`

	Fallbacks []ProviderOptions `json:"fallbacks" mapstructure:"fallbacks"`
}

// NewEmbeddingOptions 创建默认 Embedding 配置，默认使用离线 local 供应商。
func NewEmbeddingOptions() *EmbeddingOptions {
	return &EmbeddingOptions{
		ProviderOptions: ProviderOptions{
			Provider:   llm.LocalProviderName,
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
	}
}

// Candidates 按配置顺序返回候选列表。
func (o *EmbeddingOptions) Candidates() []llm.Candidate {
	all := append([]ProviderOptions{o.ProviderOptions}, o.Fallbacks...)
	out := make([]llm.Candidate, 0, len(all))
	for i := range all {
		if strings.TrimSpace(all[i].Provider) == "" {
			continue
		}
		cfg := all[i].baseConfig()
		if all[i].Model != "" {
			cfg["embed_model"] = all[i].Model
		}
		out = append(out, llm.Candidate{Provider: all[i].Provider, Config: cfg})
	}
	return out
}

// AddFlags adds flags for the primary embedding candidate.
func (o *EmbeddingOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "embedding."
	o.addFlags(fs, p)
	fs.IntVar(&o.Dimension, p+"dimension", o.Dimension, "Vector dimension of the local hashing provider.")
}

// Validate validates the embedding options.
func (o *EmbeddingOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedding: dimension must not be negative"))
	}
	for i, f := range o.Fallbacks {
		if strings.TrimSpace(f.Provider) == "" {
			errs = append(errs, fmt.Errorf("embedding: fallbacks[%d].provider is required", i))
		}
	}
	return errs
}

// ChatOptions Chat 供应商配置。
type ChatOptions struct {
	ProviderOptions `mapstructure:",squash"`

	Fallbacks []ProviderOptions `json:"fallbacks" mapstructure:"fallbacks"`

	// Temperature 采样温度。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// MaxTokens 最大生成 token 数。
	MaxTokens int `json:"max-tokens" mapstructure:"max-tokens"`
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ChatOptions {
	return &ChatOptions{
		ProviderOptions: ProviderOptions{
			Provider:   "ollama",
			BaseURL:    "http://localhost:11434",
			Model:      "llama3.1",
			Timeout:    120 * time.Second,
			MaxRetries: 2,
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	}
}

// Candidates 按配置顺序返回候选列表。
func (o *ChatOptions) Candidates() []llm.Candidate {
	all := append([]ProviderOptions{o.ProviderOptions}, o.Fallbacks...)
	out := make([]llm.Candidate, 0, len(all))
	for i := range all {
		if strings.TrimSpace(all[i].Provider) == "" {
			continue
		}
		cfg := all[i].baseConfig()
		if all[i].Model != "" {
			cfg["chat_model"] = all[i].Model
		}
		cfg["temperature"] = o.Temperature
		cfg["max_tokens"] = o.MaxTokens
		out = append(out, llm.Candidate{Provider: all[i].Provider, Config: cfg})
	}
	return out
}

// AddFlags adds flags for the primary chat candidate.
func (o *ChatOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "chat."
	o.addFlags(fs, p)
	fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Sampling temperature.")
	fs.IntVar(&o.MaxTokens, p+"max-tokens", o.MaxTokens, "Maximum tokens to generate.")
}

// Validate validates the chat options.
func (o *ChatOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if strings.TrimSpace(o.Provider) == "" {
		errs = append(errs, fmt.Errorf("chat: provider is required"))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat: temperature must be within [0, 2]"))
	}
	if o.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("chat: max-tokens must be positive"))
	}
	return errs
}

// TranscriptionOptions 语音转写服务配置（OpenAI 兼容 /audio/transcriptions）。
type TranscriptionOptions struct {
	BaseURL string        `json:"base-url" mapstructure:"base-url"`
	APIKey  string        `json:"-" mapstructure:"api-key"`
	Model   string        `json:"model" mapstructure:"model"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewTranscriptionOptions 创建默认转写配置，未配置 APIKey 时转写不可用。
func NewTranscriptionOptions() *TranscriptionOptions {
	return &TranscriptionOptions{
		BaseURL: "https://api.openai.com/v1",
		Model:   "whisper-1",
		Timeout: 10 * time.Minute,
	}
}

// Enabled 是否配置了转写服务。
func (o *TranscriptionOptions) Enabled() bool {
	return o != nil && o.APIKey != ""
}

// AddFlags adds flags for transcription options.
func (o *TranscriptionOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "transcription."
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Transcription API base URL.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Transcription API key; empty disables audio transcription.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Transcription model.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Transcription request timeout.")
}

// Validate validates the transcription options.
func (o *TranscriptionOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}
	if o.BaseURL == "" {
		return []error{fmt.Errorf("transcription: base-url is required when api-key is set")}
	}
	return nil
}
