package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kart-io/sentinel-kb/pkg/utils/httpclient"
)

// Transcription 语音转写结果（verbose_json 格式的子集）。
type Transcription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// TranscriberConfig 语音转写配置。
type TranscriberConfig struct {
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	APIKey  string        `json:"api_key" mapstructure:"api_key"`
	Model   string        `json:"model" mapstructure:"model"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Transcriber 调用 /audio/transcriptions 端点的语音转写客户端。
type Transcriber struct {
	config TranscriberConfig
	client *httpclient.Client
}

// NewTranscriber 创建语音转写客户端。
func NewTranscriber(cfg TranscriberConfig) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: 转写需要 api_key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Transcriber{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout, 1),
	}, nil
}

// Transcribe 上传音频并返回转写文本、语言与时长。
func (t *Transcriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (*Transcription, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("创建表单文件失败: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("写入音频数据失败: %w", err)
	}
	_ = w.WriteField("model", t.config.Model)
	_ = w.WriteField("response_format", "verbose_json")
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out Transcription
	if err := t.client.DoJSON(req, &out); err != nil {
		return nil, fmt.Errorf("openai: 转写失败: %w", err)
	}
	return &out, nil
}
