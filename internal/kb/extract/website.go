package extract

import (
	"context"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

// 抓取策略。
const (
	StrategyAuto      = "auto"
	StrategyFirecrawl = "firecrawl"
	StrategyCustom    = "custom"
)

// ValidStrategy 是否为已知策略，空串视为 auto。
func ValidStrategy(s string) bool {
	switch s {
	case "", StrategyAuto, StrategyFirecrawl, StrategyCustom:
		return true
	}
	return false
}

// WebsiteExtractor 抓取一个或多个 URL。部分 URL 失败时继续，全部失败时返回 ErrKBAllSourcesFailed。
type WebsiteExtractor struct {
	firecrawl *Firecrawl
	crawler   *Crawler
	strategy  string
}

// NewWebsiteExtractor 创建网站提取器。firecrawl 为 nil 表示未配置托管 API。
func NewWebsiteExtractor(firecrawl *Firecrawl, crawler *Crawler, defaultStrategy string) *WebsiteExtractor {
	if defaultStrategy == "" {
		defaultStrategy = StrategyAuto
	}
	return &WebsiteExtractor{firecrawl: firecrawl, crawler: crawler, strategy: defaultStrategy}
}

type siteResult struct {
	crawler string
	pages   []CrawledPage
}

// Extract 实现 Extractor。
func (w *WebsiteExtractor) Extract(ctx context.Context, in *Input) (*Result, error) {
	if len(in.URLs) == 0 {
		return nil, errors.ErrKBInvalidURL.WithMessage("at least one url is required")
	}
	strategy := in.Crawl.Strategy
	if strategy == "" {
		strategy = w.strategy
	}

	res := &Result{SourcesAttempted: len(in.URLs)}
	var (
		texts     []string
		pagesMeta []map[string]any
		visited   []string
		crawlers  = map[string]bool{}
	)

	for _, u := range in.URLs {
		site, err := w.crawlOne(ctx, u, strategy, in.Crawl)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warnw("website source failed", "url", u, "error", err.Error())
			res.SourcesFailed++
			res.Failures = append(res.Failures, SourceFailure{URL: u, Error: err.Error()})
			continue
		}
		crawlers[site.crawler] = true
		for _, p := range site.pages {
			visited = append(visited, p.URL)
			if strings.TrimSpace(p.Page.Text) != "" {
				texts = append(texts, p.Page.Text)
			}
			if res.Title == "" && p.Page.Title != "" {
				res.Title = p.Page.Title
			}
			pagesMeta = append(pagesMeta, map[string]any{"url": p.URL, "metadata": p.Page.Metadata()})
		}
	}

	if res.SourcesFailed == len(in.URLs) {
		return nil, errors.ErrKBAllSourcesFailed.WithMessagef(
			"all %d website sources failed: %s", len(in.URLs), strings.Join(in.URLs, ", "))
	}

	res.Text = strings.Join(texts, "\n\n")
	res.setMeta("pages", pagesMeta)
	res.setMeta("pages_crawled", len(visited))
	res.setMeta("urls_visited", visited)
	names := make([]string, 0, len(crawlers))
	for _, n := range []string{StrategyFirecrawl, StrategyCustom} {
		if crawlers[n] {
			names = append(names, n)
		}
	}
	res.setMeta("crawler", strings.Join(names, ","))
	if len(res.Failures) > 0 {
		res.setMeta("failed_sources", res.Failures)
	}
	return res, nil
}

// crawlOne 选择策略：firecrawl 或 auto 且已配置时先走托管 API，失败后回退到自建爬虫。
func (w *WebsiteExtractor) crawlOne(ctx context.Context, target, strategy string, opts CrawlOptions) (*siteResult, error) {
	if _, err := parseHTTPURL(target); err != nil {
		return nil, errors.ErrKBInvalidURL.WithCause(err)
	}

	useManaged := strategy == StrategyFirecrawl || (strategy == StrategyAuto && w.firecrawl != nil)
	if useManaged {
		if w.firecrawl == nil {
			logger.Warnw("firecrawl requested but not configured, using custom crawler", "url", target)
		} else {
			pages, err := w.managed(ctx, target, opts)
			if err == nil {
				return &siteResult{crawler: StrategyFirecrawl, pages: pages}, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warnw("firecrawl failed, falling back to custom crawler", "url", target, "error", err.Error())
		}
	}

	pages, err := w.crawler.Crawl(ctx, target, opts.MaxDepth, opts.MaxPages)
	if err != nil {
		return nil, err
	}
	return &siteResult{crawler: StrategyCustom, pages: pages}, nil
}

// managed 深度大于 1 时提交抓取任务，否则（或任务失败、无结果时）单页抓取。
func (w *WebsiteExtractor) managed(ctx context.Context, target string, opts CrawlOptions) ([]CrawledPage, error) {
	var docs []FirecrawlDocument
	if opts.MaxDepth > 1 {
		limit := opts.MaxPages
		if limit <= 0 {
			limit = w.crawler.cfg.MaxPages
		}
		crawled, err := w.firecrawl.Crawl(ctx, target, opts.MaxDepth, limit)
		if err != nil {
			logger.Warnw("firecrawl crawl failed, falling back to scrape", "url", target, "error", err.Error())
		}
		docs = crawled
	}
	if len(docs) == 0 {
		doc, err := w.firecrawl.Scrape(ctx, target)
		if err != nil {
			return nil, err
		}
		docs = []FirecrawlDocument{*doc}
	}

	pages := make([]CrawledPage, 0, len(docs))
	for i := range docs {
		d := &docs[i]
		p := &Page{Text: d.Content()}
		if title, ok := d.Metadata["title"].(string); ok {
			p.Title = title
		}
		if desc, ok := d.Metadata["description"].(string); ok {
			p.Description = desc
		}
		u := d.SourceURL()
		if u == "" {
			u = target
		}
		pages = append(pages, CrawledPage{URL: u, Page: p})
	}
	return pages, nil
}
