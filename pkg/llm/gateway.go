package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kart-io/logger"
)

// LocalProviderName 离线兜底供应商的注册名称。
const LocalProviderName = "local"

// ErrNoProvider 表示没有任何可用的供应商。
var ErrNoProvider = errors.New("llm: no usable provider")

// Candidate 候选供应商配置，按配置顺序依次尝试。
type Candidate struct {
	Provider string         `json:"provider" mapstructure:"provider"`
	Config   map[string]any `json:"config" mapstructure:"config"`
}

// Rejection 记录候选供应商被跳过的原因。
type Rejection struct {
	Provider string
	Reason   error
}

// Resolution 供应商解析结果。
type Resolution struct {
	Rejected []Rejection
	// Fallback 为 true 表示所有候选都不可用，使用了本地兜底供应商。
	Fallback bool
}

// ResolveEmbedding 按顺序解析 Embedding 供应商。
//
// 每个候选都要通过能力检查（已注册 Embedding 能力）和凭据检查（工厂创建成功），
// 第一个通过的候选胜出。全部失败时回退到本地供应商，使用最后一个本地候选的配置（如有）。
func ResolveEmbedding(candidates []Candidate) (EmbeddingProvider, Resolution, error) {
	var res Resolution
	var localCfg map[string]any

	for _, c := range candidates {
		name := strings.ToLower(strings.TrimSpace(c.Provider))
		if name == LocalProviderName {
			localCfg = c.Config
		}
		if !SupportsEmbedding(name) {
			res.Rejected = append(res.Rejected, Rejection{
				Provider: name,
				Reason:   fmt.Errorf("provider %q does not support embeddings", name),
			})
			logger.Warnw("embedding candidate skipped", "provider", name, "reason", "embeddings not supported")
			continue
		}
		p, err := NewEmbeddingProvider(name, c.Config)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Provider: name, Reason: err})
			logger.Warnw("embedding candidate skipped", "provider", name, "error", err.Error())
			continue
		}
		logger.Infow("embedding provider resolved", "provider", p.Name(), "model", p.Model())
		return p, res, nil
	}

	res.Fallback = true
	p, err := NewEmbeddingProvider(LocalProviderName, localCfg)
	if err != nil {
		return nil, res, fmt.Errorf("%w: local fallback: %v", ErrNoProvider, err)
	}
	logger.Warnw("falling back to local embedding provider",
		"model", p.Model(), "rejected", len(res.Rejected))
	return p, res, nil
}

// ResolveChat 按顺序创建所有可用的 Chat 供应商。
// 多于一个时返回 FallbackChat，调用失败时依次尝试下一个。
func ResolveChat(candidates []Candidate) (ChatProvider, Resolution, error) {
	var res Resolution
	var chain []ChatProvider

	for _, c := range candidates {
		name := strings.ToLower(strings.TrimSpace(c.Provider))
		if !SupportsChat(name) {
			res.Rejected = append(res.Rejected, Rejection{
				Provider: name,
				Reason:   fmt.Errorf("provider %q does not support chat", name),
			})
			continue
		}
		p, err := NewChatProvider(name, c.Config)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Provider: name, Reason: err})
			logger.Warnw("chat candidate skipped", "provider", name, "error", err.Error())
			continue
		}
		chain = append(chain, p)
	}

	switch len(chain) {
	case 0:
		return nil, res, ErrNoProvider
	case 1:
		return chain[0], res, nil
	default:
		return NewFallbackChat(chain...), res, nil
	}
}

// FallbackChat 按顺序尝试多个 Chat 供应商。
type FallbackChat struct {
	providers []ChatProvider
}

// NewFallbackChat 创建回退 Chat 供应商。
func NewFallbackChat(providers ...ChatProvider) *FallbackChat {
	return &FallbackChat{providers: providers}
}

// Name 返回首选供应商名称。
func (f *FallbackChat) Name() string {
	if len(f.providers) == 0 {
		return "fallback"
	}
	return f.providers[0].Name()
}

// Chat 依次尝试，返回第一个成功的结果。
func (f *FallbackChat) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error) {
	var errs []error
	for _, p := range f.providers {
		out, err := p.Chat(ctx, messages, opts...)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Warnw("chat provider failed, trying next", "provider", p.Name(), "error", err.Error())
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	if len(errs) == 0 {
		return "", ErrNoProvider
	}
	return "", errors.Join(errs...)
}

// Generate 依次尝试，返回第一个成功的结果。
func (f *FallbackChat) Generate(ctx context.Context, prompt, systemPrompt string, opts ...ChatOption) (string, error) {
	return f.Chat(ctx, BuildMessages(prompt, systemPrompt), opts...)
}

// ChatStream 在首选的流式供应商上建立流；建立失败时尝试下一个。
// 流开始后不再切换供应商，避免重复输出。
func (f *FallbackChat) ChatStream(ctx context.Context, messages []Message, opts ...ChatOption) (<-chan StreamChunk, error) {
	var errs []error
	for _, p := range f.providers {
		ch, err := Stream(ctx, p, messages, opts...)
		if err == nil {
			return ch, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	if len(errs) == 0 {
		return nil, ErrNoProvider
	}
	return nil, errors.Join(errs...)
}

// BuildMessages 将单轮提示转换为消息列表。
func BuildMessages(prompt, systemPrompt string) []Message {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(messages, Message{Role: RoleUser, Content: prompt})
}

// Stream 对任意 Chat 供应商建立流。
// 不支持流式的供应商退化为一次性调用，整段结果作为单个片段发送。
func Stream(ctx context.Context, p ChatProvider, messages []Message, opts ...ChatOption) (<-chan StreamChunk, error) {
	if sp, ok := p.(StreamChatProvider); ok {
		return sp.ChatStream(ctx, messages, opts...)
	}

	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		out, err := p.Chat(ctx, messages, opts...)
		select {
		case ch <- StreamChunk{Content: out, Err: err}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
