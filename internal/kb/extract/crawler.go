package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"github.com/kart-io/sentinel-kb/pkg/utils/httpclient"
)

// BrowserUserAgent 自建爬虫默认使用的浏览器 UA。
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// robotsAgent robots.txt 规则匹配使用的爬虫名。
const robotsAgent = "sentinel-kb"

// CrawlerConfig 自建爬虫配置。
type CrawlerConfig struct {
	UserAgent         string        `json:"user-agent" mapstructure:"user-agent"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRedirects      int           `json:"max-redirects" mapstructure:"max-redirects"`
	RequestsPerSecond float64       `json:"rate" mapstructure:"rate"`
	RespectRobots     bool          `json:"respect-robots" mapstructure:"respect-robots"`
	MaxDepth          int           `json:"depth" mapstructure:"depth"`
	MaxPages          int           `json:"max-pages" mapstructure:"max-pages"`
	MaxBodyBytes      int64         `json:"max-body-bytes" mapstructure:"max-body-bytes"`
}

// DefaultCrawlerConfig 返回默认配置。
func DefaultCrawlerConfig() CrawlerConfig {
	return CrawlerConfig{
		UserAgent:         BrowserUserAgent,
		Timeout:           30 * time.Second,
		MaxRedirects:      10,
		RequestsPerSecond: 2,
		RespectRobots:     true,
		MaxDepth:          1,
		MaxPages:          50,
		MaxBodyBytes:      10 << 20,
	}
}

// CrawledPage 一个已抓取的页面。
type CrawledPage struct {
	URL  string
	Page *Page
}

// Crawler 同源广度优先爬虫：深度限制、robots.txt、限速。
type Crawler struct {
	cfg     CrawlerConfig
	client  *httpclient.Client
	limiter *rate.Limiter

	mu     sync.Mutex
	robots map[string]*robotstxt.RobotsData
}

// NewCrawler 创建爬虫。
func NewCrawler(cfg CrawlerConfig) *Crawler {
	def := DefaultCrawlerConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	maxRedirects := cfg.MaxRedirects
	client := httpclient.NewClient(cfg.Timeout, 1, httpclient.WithCheckRedirect(
		func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}))

	return &Crawler{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		robots:  make(map[string]*robotstxt.RobotsData),
	}
}

// Crawl 从 seed 开始抓取。depth 为 1 时只抓取 seed 本身；depth、maxPages 为 0 时使用配置值。
// seed 抓取失败时返回错误，其余页面的失败只记录日志。
func (c *Crawler) Crawl(ctx context.Context, seed string, depth, maxPages int) ([]CrawledPage, error) {
	start, err := parseHTTPURL(seed)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = c.cfg.MaxDepth
	}
	if maxPages <= 0 {
		maxPages = c.cfg.MaxPages
	}

	visited := map[string]bool{}
	frontier := []*url.URL{start}
	var pages []CrawledPage

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []*url.URL
		for _, u := range frontier {
			if len(pages) >= maxPages {
				return pages, nil
			}
			key := u.String()
			if visited[key] {
				continue
			}
			visited[key] = true

			page, err := c.fetchPage(ctx, u)
			if err != nil {
				if ctx.Err() != nil {
					return pages, ctx.Err()
				}
				if key == start.String() {
					return nil, err
				}
				logger.Warnw("crawl page failed", "url", key, "error", err.Error())
				continue
			}
			pages = append(pages, CrawledPage{URL: key, Page: page})

			if level < depth-1 {
				for _, link := range sameOriginLinks(u, page.Links) {
					if !visited[link.String()] {
						next = append(next, link)
					}
				}
			}
		}
		frontier = next
	}
	return pages, nil
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: only absolute http(s) urls are supported", raw)
	}
	u.Fragment = ""
	return u, nil
}

// sameOriginLinks 将 href 解析为绝对地址，只保留与 base 同源的链接并去重。
func sameOriginLinks(base *url.URL, hrefs []string) []*url.URL {
	seen := map[string]bool{}
	var out []*url.URL
	for _, href := range hrefs {
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			continue
		}
		u := base.ResolveReference(ref)
		u.Fragment = ""
		if u.Scheme != base.Scheme || u.Host != base.Host {
			continue
		}
		if key := u.String(); !seen[key] {
			seen[key] = true
			out = append(out, u)
		}
	}
	return out
}

func (c *Crawler) fetchPage(ctx context.Context, u *url.URL) (*Page, error) {
	if c.cfg.RespectRobots {
		allowed, err := c.allowed(ctx, u)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("disallowed by robots.txt: %s", u)
		}
	}

	body, contentType, err := c.get(ctx, u.String(), true)
	if err != nil {
		return nil, err
	}
	src, _ := decodeText(body, contentType)
	if !strings.Contains(contentType, "html") && contentType != "" {
		return &Page{Text: collapseLines(src)}, nil
	}
	return ParseHTML(src)
}

// get 下载页面。带浏览器 UA 收到 403 时不带 UA 重试一次。
func (c *Crawler) get(ctx context.Context, target string, browser bool) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	if browser {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	}

	resp, err := c.client.DoRequest(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden && browser {
		_, _ = io.Copy(io.Discard, resp.Body)
		logger.Warnw("access forbidden, retrying without user agent", "url", target)
		return c.get(ctx, target, false)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", target, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// allowed 查询 robots.txt，每个 host 只下载一次。下载失败视为允许。
func (c *Crawler) allowed(ctx context.Context, u *url.URL) (bool, error) {
	host := u.Scheme + "://" + u.Host

	c.mu.Lock()
	data, ok := c.robots[host]
	c.mu.Unlock()

	if !ok {
		data = c.fetchRobots(ctx, host)
		c.mu.Lock()
		c.robots[host] = data
		c.mu.Unlock()
	}
	if data == nil {
		return true, nil
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return data.TestAgent(p, robotsAgent), nil
}

func (c *Crawler) fetchRobots(ctx context.Context, host string) *robotstxt.RobotsData {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := c.client.DoRequest(req)
	if err != nil {
		logger.Debugw("robots.txt unavailable", "host", host, "error", err.Error())
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		logger.Debugw("robots.txt unparsable", "host", host, "error", err.Error())
		return nil
	}
	return data
}
