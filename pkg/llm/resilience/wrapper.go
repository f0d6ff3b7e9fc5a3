package resilience

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/kart-io/sentinel-kb/pkg/llm"
	"github.com/kart-io/sentinel-kb/pkg/utils/httpclient"
)

// EmbeddingProvider 为 Embedding 供应商增加重试与熔断。
// Name 与 Model 透传，保证缓存键和维度表不受包装影响。
type EmbeddingProvider struct {
	provider llm.EmbeddingProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// WrapEmbedding 包装 Embedding 供应商，配置为 nil 时使用默认值。
func WrapEmbedding(provider llm.EmbeddingProvider, retry *RetryConfig, cb *CircuitBreakerConfig) *EmbeddingProvider {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &EmbeddingProvider{provider: provider, retry: retry, cb: NewCircuitBreaker(cb)}
}

// Embed 批量生成向量。
func (r *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		out, err = r.provider.Embed(ctx, texts)
		return err
	})
	return out, err
}

// EmbedSingle 生成单个向量。
func (r *EmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		out, err = r.provider.EmbedSingle(ctx, text)
		return err
	})
	return out, err
}

func (r *EmbeddingProvider) Name() string  { return r.provider.Name() }
func (r *EmbeddingProvider) Model() string { return r.provider.Model() }

// Dimension 透传底层维度。
func (r *EmbeddingProvider) Dimension() int {
	if d, ok := r.provider.(llm.Dimensioner); ok {
		return d.Dimension()
	}
	return 0
}

// CircuitBreaker 返回熔断器，用于健康检查展示。
func (r *EmbeddingProvider) CircuitBreaker() *CircuitBreaker { return r.cb }

// ChatProvider 为 Chat 供应商增加重试与熔断。
// 流式调用只对建立连接的过程重试，流开始后的错误原样传给调用方。
type ChatProvider struct {
	provider llm.ChatProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

// WrapChat 包装 Chat 供应商。
func WrapChat(provider llm.ChatProvider, retry *RetryConfig, cb *CircuitBreakerConfig) *ChatProvider {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &ChatProvider{provider: provider, retry: retry, cb: NewCircuitBreaker(cb)}
}

// Chat 多轮对话。
func (r *ChatProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (string, error) {
	var out string
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		out, err = r.provider.Chat(ctx, messages, opts...)
		return err
	})
	return out, err
}

// Generate 单轮生成。
func (r *ChatProvider) Generate(ctx context.Context, prompt, systemPrompt string, opts ...llm.ChatOption) (string, error) {
	var out string
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		out, err = r.provider.Generate(ctx, prompt, systemPrompt, opts...)
		return err
	})
	return out, err
}

// ChatStream 建立流式对话。
func (r *ChatProvider) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (<-chan llm.StreamChunk, error) {
	var ch <-chan llm.StreamChunk
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		ch, err = llm.Stream(ctx, r.provider, messages, opts...)
		return err
	})
	return ch, err
}

func (r *ChatProvider) Name() string { return r.provider.Name() }

// CircuitBreaker 返回熔断器。
func (r *ChatProvider) CircuitBreaker() *CircuitBreaker { return r.cb }

// IsRetryableError 判断错误是否为暂时性故障：网络错误、连接中断、5xx、408、429。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
