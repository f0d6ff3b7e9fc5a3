package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider 模拟供应商实现，用于测试。
type mockProvider struct {
	name  string
	model string
	calls int
	err   error
	reply string
}

func (m *mockProvider) Name() string  { return m.name }
func (m *mockProvider) Model() string { return m.model }

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = []float32{float32(len(t)), 0.5, 0.25}
	}
	return result, nil
}

func (m *mockProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (m *mockProvider) Chat(_ context.Context, _ []Message, _ ...ChatOption) (string, error) {
	m.calls++
	return m.reply, m.err
}

func (m *mockProvider) Generate(ctx context.Context, prompt, system string, opts ...ChatOption) (string, error) {
	return m.Chat(ctx, BuildMessages(prompt, system), opts...)
}

func TestRegisterAndNewProvider(t *testing.T) {
	RegisterProvider("test-provider", func(config map[string]any) (Provider, error) {
		return &mockProvider{name: ConfigString(config, "name")}, nil
	})

	provider, err := NewProvider("test-provider", map[string]any{"name": "custom-name"})
	require.NoError(t, err)
	assert.Equal(t, "custom-name", provider.Name())

	_, err = NewProvider("unknown-provider", nil)
	assert.Error(t, err)
}

func TestNewEmbeddingProvider_PrefersDedicatedFactory(t *testing.T) {
	RegisterProvider("dual", func(map[string]any) (Provider, error) {
		return &mockProvider{name: "dual-full"}, nil
	})
	RegisterEmbeddingProvider("dual", func(map[string]any) (EmbeddingProvider, error) {
		return &mockProvider{name: "dual-embed"}, nil
	})

	p, err := NewEmbeddingProvider("dual", nil)
	require.NoError(t, err)
	assert.Equal(t, "dual-embed", p.Name())

	c, err := NewChatProvider("dual", nil)
	require.NoError(t, err)
	assert.Equal(t, "dual-full", c.Name())

	assert.Contains(t, ListProviders(), "dual")
}

func TestApplyChatOptions(t *testing.T) {
	o := ApplyChatOptions([]ChatOption{WithTemperature(0.3), WithMaxTokens(200), nil})
	require.NotNil(t, o.Temperature)
	assert.InDelta(t, 0.3, *o.Temperature, 1e-9)
	assert.Equal(t, 200, o.MaxTokens)

	assert.Nil(t, ApplyChatOptions(nil).Temperature)
}

func TestConfigInt(t *testing.T) {
	for _, v := range []any{7, int64(7), float64(7)} {
		n, ok := ConfigInt(map[string]any{"k": v}, "k")
		assert.True(t, ok)
		assert.Equal(t, 7, n)
	}
	_, ok := ConfigInt(map[string]any{"k": "7"}, "k")
	assert.False(t, ok)
}

func TestBuildMessages(t *testing.T) {
	assert.Equal(t, []Message{{Role: RoleUser, Content: "q"}}, BuildMessages("q", ""))
	msgs := BuildMessages("q", "sys")
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
}

func TestStream_NonStreamingProviderYieldsSingleChunk(t *testing.T) {
	p := &mockProvider{name: "plain", reply: "whole answer"}
	ch, err := Stream(context.Background(), p, nil)
	require.NoError(t, err)

	var chunks []StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, "whole answer", chunks[0].Content)
	assert.NoError(t, chunks[0].Err)
}

func TestFallbackChat(t *testing.T) {
	first := &mockProvider{name: "first", err: errors.New("down")}
	second := &mockProvider{name: "second", reply: "ok"}
	f := NewFallbackChat(first, second)

	out, err := f.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, "first", f.Name())

	allDown := NewFallbackChat(first, &mockProvider{name: "third", err: errors.New("also down")})
	_, err = allDown.Chat(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "third")
}
