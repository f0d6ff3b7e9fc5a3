package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/pkg/llm"
)

const testAPIKey = "test-key"

func newTestProvider(url string) *Provider {
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.APIKey = testAPIKey
	cfg.MaxRetries = 0
	return NewProviderWithConfig(cfg)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "https://api.openai.com/v1", cfg.BaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbedModel)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)
	assert.Equal(t, 120*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		config    map[string]any
		wantError bool
	}{
		{name: "valid config", config: map[string]any{"api_key": testAPIKey}},
		{name: "missing api key", config: map[string]any{"base_url": "http://localhost"}, wantError: true},
		{name: "stop as interface slice", config: map[string]any{"api_key": testAPIKey, "stop": []interface{}{"END", 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.config)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ProviderName, p.Name())
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"api_key":     testAPIKey,
		"base_url":    "http://llm.local/v1/",
		"model":       "text-embedding-3-large",
		"max_tokens":  float64(512),
		"max_retries": 1,
		"stop":        []interface{}{"END", 7},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://llm.local/v1", cfg.BaseURL)
	assert.Equal(t, "text-embedding-3-large", cfg.EmbedModel)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, []string{"END"}, cfg.Stop)
}

func TestProviderEmbed_OrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[
			{"embedding":[0.4,0.5,0.6],"index":1},
			{"embedding":[0.1,0.2,0.3],"index":0}
		],"model":"text-embedding-3-small"}`)
	}))
	defer server.Close()

	embeddings, err := newTestProvider(server.URL).Embed(context.Background(), []string{"text1", "text2"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embeddings[0])
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, embeddings[1])
}

func TestProviderEmbed_MissingVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"embedding":[0.1],"index":0}]}`)
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestProviderEmbedEmpty(t *testing.T) {
	p := newTestProvider("http://unused")
	embeddings, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, embeddings)
}

func TestProviderChat_CallOptionsOverrideDefaults(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"30 days"}}]}`)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	p.config.Temperature = 0.9
	p.config.MaxTokens = 50
	p.config.Organization = "org-1"

	out, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "window?"}},
		llm.WithTemperature(0.3), llm.WithMaxTokens(1000))
	require.NoError(t, err)
	assert.Equal(t, "30 days", out)

	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.False(t, got.Stream)
}

func TestProviderGenerate_SystemPrompt(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	out, err := newTestProvider(server.URL).Generate(context.Background(), "translate", "you translate")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, llm.RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "translate", got.Messages[1].Content)
}

func TestProviderChat_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}})
	assert.Error(t, err)
}

func TestProviderChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Refunds ", "within ", "30 days."} {
			_, _ = fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", part)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	ch, err := newTestProvider(server.URL).ChatStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "window?"}})
	require.NoError(t, err)

	var sb strings.Builder
	for c := range ch {
		require.NoError(t, c.Err)
		sb.WriteString(c.Content)
	}
	assert.Equal(t, "Refunds within 30 days.", sb.String())
}

func TestTranscriber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "clip.mp3", hdr.Filename)
		assert.Equal(t, "RIFF", string(b))
		_, _ = io.WriteString(w, `{"text":"hello there","language":"english","duration":2.5}`)
	}))
	defer server.Close()

	tr, err := NewTranscriber(TranscriberConfig{BaseURL: server.URL, APIKey: testAPIKey})
	require.NoError(t, err)

	out, err := tr.Transcribe(context.Background(), "/tmp/clip.mp3", strings.NewReader("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", out.Text)
	assert.Equal(t, "english", out.Language)
	assert.InDelta(t, 2.5, out.Duration, 1e-9)

	_, err = NewTranscriber(TranscriberConfig{})
	assert.Error(t, err)
}
