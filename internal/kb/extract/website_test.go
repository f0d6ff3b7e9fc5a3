package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

type fakeFirecrawl struct {
	srv         *httptest.Server
	scrapes     atomic.Int32
	crawls      atomic.Int32
	polls       atomic.Int32
	failScrape  bool
	crawlStatus string
}

func newFakeFirecrawl(t *testing.T) *fakeFirecrawl {
	t.Helper()
	f := &fakeFirecrawl{crawlStatus: "completed"}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		f.scrapes.Add(1)
		if r.Header.Get("Authorization") != "Bearer fc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.failScrape {
			fmt.Fprint(w, `{"success":false,"error":"blocked"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"data":{"markdown":"# Pricing\n\nPlans start at $10.","metadata":{"title":"Pricing","description":"plans"}}}`)
	})
	mux.HandleFunc("/v1/crawl", func(w http.ResponseWriter, _ *http.Request) {
		f.crawls.Add(1)
		fmt.Fprint(w, `{"success":true,"id":"job-1"}`)
	})
	mux.HandleFunc("/v1/crawl/job-1", func(w http.ResponseWriter, _ *http.Request) {
		if f.polls.Add(1) == 1 {
			fmt.Fprint(w, `{"status":"scraping","total":2,"completed":1}`)
			return
		}
		fmt.Fprintf(w, `{"status":%q,"data":[`+
			`{"markdown":"first page","metadata":{"sourceURL":"https://docs.example/","title":"Docs"}},`+
			`{"html":"<p>second <b>page</b></p>","metadata":{"sourceURL":"https://docs.example/2"}}],"error":"quota"}`, f.crawlStatus)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFirecrawl) client() *Firecrawl {
	return NewFirecrawl(FirecrawlConfig{
		BaseURL:      f.srv.URL + "/",
		APIKey:       "fc-key",
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		MaxWait:      5 * time.Second,
	})
}

func TestFirecrawl_Scrape(t *testing.T) {
	f := newFakeFirecrawl(t)
	doc, err := f.client().Scrape(context.Background(), "https://docs.example/pricing")
	require.NoError(t, err)
	assert.Equal(t, "# Pricing\n\nPlans start at $10.", doc.Content())
	assert.Equal(t, "https://docs.example/pricing", doc.SourceURL())
}

func TestFirecrawl_CrawlPollsUntilComplete(t *testing.T) {
	f := newFakeFirecrawl(t)
	docs, err := f.client().Crawl(context.Background(), "https://docs.example/", 2, 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "first page", docs[0].Content())
	assert.Equal(t, "second page", docs[1].Content())
	assert.Equal(t, int32(2), f.polls.Load())
}

func TestFirecrawl_CrawlFailed(t *testing.T) {
	f := newFakeFirecrawl(t)
	f.crawlStatus = "failed"
	_, err := f.client().Crawl(context.Background(), "https://docs.example/", 2, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestWebsiteExtractor_PartialFailure(t *testing.T) {
	site := newSite(t)
	w := NewWebsiteExtractor(nil, testCrawler(), StrategyAuto)

	bad := site.URL + "/private"
	res, err := w.Extract(context.Background(), &Input{URLs: []string{site.URL + "/a", bad}})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SourcesAttempted)
	assert.Equal(t, 1, res.SourcesFailed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, bad, res.Failures[0].URL)
	assert.Equal(t, "A", res.Title)
	assert.Contains(t, res.Text, "page a")
	assert.Equal(t, StrategyCustom, res.Metadata["crawler"])
	assert.Equal(t, 1, res.Metadata["pages_crawled"])
}

func TestWebsiteExtractor_AllSourcesFailed(t *testing.T) {
	w := NewWebsiteExtractor(nil, testCrawler(), StrategyCustom)
	urls := []string{"not a url", "ftp://files.example/x"}

	_, err := w.Extract(context.Background(), &Input{URLs: urls})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrKBAllSourcesFailed)
	assert.Contains(t, err.Error(), "not a url, ftp://files.example/x")
}

func TestWebsiteExtractor_RequiresURL(t *testing.T) {
	w := NewWebsiteExtractor(nil, testCrawler(), "")
	_, err := w.Extract(context.Background(), &Input{})
	assert.ErrorIs(t, err, errors.ErrKBInvalidURL)
}

func TestWebsiteExtractor_AutoPrefersFirecrawl(t *testing.T) {
	f := newFakeFirecrawl(t)
	w := NewWebsiteExtractor(f.client(), testCrawler(), StrategyAuto)

	res, err := w.Extract(context.Background(), &Input{URLs: []string{"https://docs.example/pricing"}})
	require.NoError(t, err)
	assert.Equal(t, "Pricing", res.Title)
	assert.Contains(t, res.Text, "Plans start at $10.")
	assert.Equal(t, StrategyFirecrawl, res.Metadata["crawler"])
	assert.Equal(t, int32(0), f.crawls.Load())
}

func TestWebsiteExtractor_DeepCrawlUsesCrawlJob(t *testing.T) {
	f := newFakeFirecrawl(t)
	w := NewWebsiteExtractor(f.client(), testCrawler(), StrategyFirecrawl)

	res, err := w.Extract(context.Background(), &Input{
		URLs:  []string{"https://docs.example/"},
		Crawl: CrawlOptions{MaxDepth: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "first page\n\nsecond page", res.Text)
	assert.Equal(t, []string{"https://docs.example/", "https://docs.example/2"}, res.Metadata["urls_visited"])
	assert.Equal(t, int32(0), f.scrapes.Load())
}

func TestWebsiteExtractor_FallsBackToCustomCrawler(t *testing.T) {
	f := newFakeFirecrawl(t)
	f.failScrape = true
	site := newSite(t)
	w := NewWebsiteExtractor(f.client(), testCrawler(), StrategyAuto)

	res, err := w.Extract(context.Background(), &Input{URLs: []string{site.URL + "/b"}})
	require.NoError(t, err)
	assert.Equal(t, "page b", res.Text)
	assert.Equal(t, StrategyCustom, res.Metadata["crawler"])
	assert.Equal(t, int32(1), f.scrapes.Load())
}

func TestValidStrategy(t *testing.T) {
	for _, s := range []string{"", StrategyAuto, StrategyFirecrawl, StrategyCustom} {
		assert.True(t, ValidStrategy(s), s)
	}
	assert.False(t, ValidStrategy("selenium"))
}
