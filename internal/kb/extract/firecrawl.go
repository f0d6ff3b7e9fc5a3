package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/sentinel-kb/pkg/utils/httpclient"
)

// FirecrawlConfig 托管抓取 API（Firecrawl v1 兼容）配置。
type FirecrawlConfig struct {
	BaseURL      string        `json:"base-url" mapstructure:"base-url"`
	APIKey       string        `json:"api-key" mapstructure:"api-key"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`
	MaxWait      time.Duration `json:"max-wait" mapstructure:"max-wait"`
}

// Enabled 是否配置了 API key。
func (c FirecrawlConfig) Enabled() bool {
	return c.APIKey != ""
}

// FirecrawlDocument 抓取 API 返回的单个页面。
type FirecrawlDocument struct {
	Markdown string         `json:"markdown"`
	HTML     string         `json:"html"`
	RawHTML  string         `json:"rawHtml"`
	Metadata map[string]any `json:"metadata"`
}

// SourceURL 页面地址，缺失时返回空串。
func (d *FirecrawlDocument) SourceURL() string {
	for _, k := range []string{"sourceURL", "url"} {
		if s, ok := d.Metadata[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Content 优先返回 Markdown，其次从 HTML 提取正文。
func (d *FirecrawlDocument) Content() string {
	if strings.TrimSpace(d.Markdown) != "" {
		return d.Markdown
	}
	for _, src := range []string{d.HTML, d.RawHTML} {
		if strings.TrimSpace(src) == "" {
			continue
		}
		if page, err := ParseHTML(src); err == nil {
			return page.Text
		}
	}
	return ""
}

// Firecrawl 托管抓取 API 客户端。
type Firecrawl struct {
	cfg    FirecrawlConfig
	client *httpclient.Client
}

// NewFirecrawl 创建客户端。
func NewFirecrawl(cfg FirecrawlConfig) *Firecrawl {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.firecrawl.dev"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	return &Firecrawl{cfg: cfg, client: httpclient.NewClient(cfg.Timeout, 2)}
}

func (f *Firecrawl) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + f.cfg.APIKey}
}

type scrapeResponse struct {
	Success bool              `json:"success"`
	Data    FirecrawlDocument `json:"data"`
	Error   string            `json:"error"`
}

// Scrape 抓取单个页面。
func (f *Firecrawl) Scrape(ctx context.Context, target string) (*FirecrawlDocument, error) {
	in := map[string]any{
		"url":     target,
		"formats": []string{"markdown", "html"},
	}
	var out scrapeResponse
	if err := f.client.PostJSON(ctx, f.cfg.BaseURL+"/v1/scrape", f.headers(), in, &out); err != nil {
		return nil, fmt.Errorf("firecrawl scrape %s: %w", target, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("firecrawl scrape %s: %s", target, out.Error)
	}
	if out.Data.SourceURL() == "" {
		if out.Data.Metadata == nil {
			out.Data.Metadata = map[string]any{}
		}
		out.Data.Metadata["sourceURL"] = target
	}
	return &out.Data, nil
}

type crawlStartResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type crawlStatusResponse struct {
	Status    string              `json:"status"`
	Total     int                 `json:"total"`
	Completed int                 `json:"completed"`
	Data      []FirecrawlDocument `json:"data"`
	Error     string              `json:"error"`
}

// Crawl 提交深度抓取任务并轮询直到完成。
func (f *Firecrawl) Crawl(ctx context.Context, target string, maxDepth, limit int) ([]FirecrawlDocument, error) {
	in := map[string]any{
		"url":           target,
		"maxDepth":      maxDepth,
		"limit":         limit,
		"scrapeOptions": map[string]any{"formats": []string{"markdown"}},
	}
	var start crawlStartResponse
	if err := f.client.PostJSON(ctx, f.cfg.BaseURL+"/v1/crawl", f.headers(), in, &start); err != nil {
		return nil, fmt.Errorf("firecrawl crawl %s: %w", target, err)
	}
	if !start.Success || start.ID == "" {
		return nil, fmt.Errorf("firecrawl crawl %s: %s", target, start.Error)
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.MaxWait)
	defer cancel()
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := f.crawlStatus(ctx, start.ID)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case "completed":
			return status.Data, nil
		case "failed", "cancelled":
			return nil, fmt.Errorf("firecrawl crawl %s %s: %s", target, status.Status, status.Error)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("firecrawl crawl %s: %w", target, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (f *Firecrawl) crawlStatus(ctx context.Context, id string) (*crawlStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.BaseURL+"/v1/crawl/"+id, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.headers() {
		req.Header.Set(k, v)
	}
	var out crawlStatusResponse
	if err := f.client.DoJSON(req, &out); err != nil {
		return nil, fmt.Errorf("firecrawl crawl status %s: %w", id, err)
	}
	return &out, nil
}
