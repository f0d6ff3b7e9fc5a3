package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kart-io/sentinel-kb/pkg/llm"
)

// sdkClient 为流式调用构造 openai-go 客户端。重试由 SDK 负责。
func (p *Provider) sdkClient() openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(p.config.APIKey),
		option.WithBaseURL(p.config.BaseURL + "/"),
		option.WithMaxRetries(p.config.MaxRetries),
	}
	if p.config.Organization != "" {
		opts = append(opts, option.WithOrganization(p.config.Organization))
	}
	return openai.NewClient(opts...)
}

func toSDKMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// ChatStream 以流式方式进行对话，每个增量内容作为一个片段发送。
func (p *Provider) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (<-chan llm.StreamChunk, error) {
	req := p.buildChatRequest(messages, opts)
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toSDKMessages(messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	client := p.sdkClient()
	stream := client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("openai: 建立流失败: %w", err)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case ch <- llm.StreamChunk{Content: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- llm.StreamChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
