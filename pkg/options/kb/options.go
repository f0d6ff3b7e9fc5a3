// Package kb provides knowledge base configuration options.
package kb

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-kb/pkg/options"
)

var (
	_ options.IOptions = (*StorageOptions)(nil)
	_ options.IOptions = (*IngestOptions)(nil)
	_ options.IOptions = (*SearchOptions)(nil)
	_ options.IOptions = (*CacheOptions)(nil)
	_ options.IOptions = (*AnswerOptions)(nil)
	_ options.IOptions = (*CrawlerOptions)(nil)
	_ options.IOptions = (*MediaOptions)(nil)
)

// Backend names.
const (
	BackendMemory  = "memory"
	BackendMongoDB = "mongodb"
	BackendMilvus  = "milvus"
	BackendRedis   = "redis"
)

// StorageOptions 选择条目/会话与向量的存储后端。
type StorageOptions struct {
	// Document 条目、会话、Agent 的存储：mongodb 或 memory。
	Document string `json:"document" mapstructure:"document"`
	// Vector 块向量的存储：milvus 或 memory。
	Vector string `json:"vector" mapstructure:"vector"`
}

// NewStorageOptions 创建默认存储配置。
func NewStorageOptions() *StorageOptions {
	return &StorageOptions{
		Document: BackendMongoDB,
		Vector:   BackendMilvus,
	}
}

// AddFlags adds flags for storage options to the specified FlagSet.
func (o *StorageOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "storage."
	fs.StringVar(&o.Document, p+"document", o.Document, "Document store backend (mongodb, memory).")
	fs.StringVar(&o.Vector, p+"vector", o.Vector, "Vector store backend (milvus, memory).")
}

// Validate validates the storage options.
func (o *StorageOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Document != BackendMongoDB && o.Document != BackendMemory {
		errs = append(errs, fmt.Errorf("storage.document must be mongodb or memory, got %q", o.Document))
	}
	if o.Vector != BackendMilvus && o.Vector != BackendMemory {
		errs = append(errs, fmt.Errorf("storage.vector must be milvus or memory, got %q", o.Vector))
	}
	return errs
}

// IngestOptions 索引任务配置。
type IngestOptions struct {
	ChunkSize      int           `json:"chunk-size" mapstructure:"chunk-size"`
	ChunkOverlap   int           `json:"chunk-overlap" mapstructure:"chunk-overlap"`
	Workers        int           `json:"workers" mapstructure:"workers"`
	EmbedBatchSize int           `json:"embed-batch-size" mapstructure:"embed-batch-size"`
	LockTTL        time.Duration `json:"lock-ttl" mapstructure:"lock-ttl"`
	JobTimeout     time.Duration `json:"job-timeout" mapstructure:"job-timeout"`
}

// NewIngestOptions 创建默认索引配置。
func NewIngestOptions() *IngestOptions {
	return &IngestOptions{
		ChunkSize:      1000,
		ChunkOverlap:   200,
		Workers:        4,
		EmbedBatchSize: 64,
		LockTTL:        30 * time.Minute,
		JobTimeout:     20 * time.Minute,
	}
}

// AddFlags adds flags for ingest options to the specified FlagSet.
func (o *IngestOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "ingest."
	fs.IntVar(&o.ChunkSize, p+"chunk-size", o.ChunkSize, "Default chunk size in characters.")
	fs.IntVar(&o.ChunkOverlap, p+"chunk-overlap", o.ChunkOverlap, "Default chunk overlap in characters.")
	fs.IntVar(&o.Workers, p+"workers", o.Workers, "Number of concurrent ingestion jobs.")
	fs.IntVar(&o.EmbedBatchSize, p+"embed-batch-size", o.EmbedBatchSize, "Texts per embedding request.")
	fs.DurationVar(&o.LockTTL, p+"lock-ttl", o.LockTTL, "Per-item ingestion lock lifetime.")
	fs.DurationVar(&o.JobTimeout, p+"job-timeout", o.JobTimeout, "Maximum duration of one ingestion job.")
}

// Validate validates the ingest options.
func (o *IngestOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("ingest.chunk-overlap must be in [0, chunk-size)"))
	}
	if o.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ingest.workers must be positive"))
	}
	if o.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("ingest.lock-ttl must be positive"))
	}
	return errs
}

// SearchOptions 检索配置。
type SearchOptions struct {
	Threshold    float64 `json:"threshold" mapstructure:"threshold"`
	VectorWeight float64 `json:"vector-weight" mapstructure:"vector-weight"`
	TextWeight   float64 `json:"text-weight" mapstructure:"text-weight"`
	Limit        int     `json:"limit" mapstructure:"limit"`
	MaxLimit     int     `json:"max-limit" mapstructure:"max-limit"`
}

// NewSearchOptions 创建默认检索配置。
func NewSearchOptions() *SearchOptions {
	return &SearchOptions{
		Threshold:    0.3,
		VectorWeight: 0.7,
		TextWeight:   0.3,
		Limit:        5,
		MaxLimit:     50,
	}
}

// AddFlags adds flags for search options to the specified FlagSet.
func (o *SearchOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "search."
	fs.Float64Var(&o.Threshold, p+"threshold", o.Threshold, "Minimum vector similarity in [0,1].")
	fs.Float64Var(&o.VectorWeight, p+"vector-weight", o.VectorWeight, "Vector score weight in hybrid search.")
	fs.Float64Var(&o.TextWeight, p+"text-weight", o.TextWeight, "Text score weight in hybrid search.")
	fs.IntVar(&o.Limit, p+"limit", o.Limit, "Default number of search results.")
	fs.IntVar(&o.MaxLimit, p+"max-limit", o.MaxLimit, "Largest limit a request may ask for.")
}

// Validate validates the search options.
func (o *SearchOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Threshold < 0 || o.Threshold > 1 {
		errs = append(errs, fmt.Errorf("search.threshold must be in [0,1]"))
	}
	if o.VectorWeight < 0 || o.TextWeight < 0 || o.VectorWeight+o.TextWeight == 0 {
		errs = append(errs, fmt.Errorf("search weights must be non-negative and not both zero"))
	}
	if o.Limit <= 0 || o.MaxLimit < o.Limit {
		errs = append(errs, fmt.Errorf("search.limit must be positive and not above search.max-limit"))
	}
	return errs
}

// CacheOptions 向量缓存与检索结果缓存配置。
type CacheOptions struct {
	// Backend memory 或 redis；redis 不可用时回退到 memory。
	Backend       string        `json:"backend" mapstructure:"backend"`
	EmbeddingTTL  time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`
	EmbeddingSize int           `json:"embedding-size" mapstructure:"embedding-size"`
	SearchTTL     time.Duration `json:"search-ttl" mapstructure:"search-ttl"`
	SearchSize    int           `json:"search-size" mapstructure:"search-size"`
	KeyPrefix     string        `json:"key-prefix" mapstructure:"key-prefix"`
}

// NewCacheOptions 创建默认缓存配置。
func NewCacheOptions() *CacheOptions {
	return &CacheOptions{
		Backend:       BackendMemory,
		EmbeddingTTL:  time.Hour,
		EmbeddingSize: 1000,
		SearchTTL:     5 * time.Minute,
		SearchSize:    500,
		KeyPrefix:     "kb:",
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *CacheOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "cache."
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Cache backend (memory, redis).")
	fs.DurationVar(&o.EmbeddingTTL, p+"embedding-ttl", o.EmbeddingTTL, "Embedding cache TTL.")
	fs.IntVar(&o.EmbeddingSize, p+"embedding-size", o.EmbeddingSize, "Embedding cache capacity (memory backend).")
	fs.DurationVar(&o.SearchTTL, p+"search-ttl", o.SearchTTL, "Search result cache TTL.")
	fs.IntVar(&o.SearchSize, p+"search-size", o.SearchSize, "Search result cache capacity (memory backend).")
	fs.StringVar(&o.KeyPrefix, p+"key-prefix", o.KeyPrefix, "Cache key prefix.")
}

// Validate validates the cache options.
func (o *CacheOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Backend != BackendMemory && o.Backend != BackendRedis {
		errs = append(errs, fmt.Errorf("cache.backend must be memory or redis, got %q", o.Backend))
	}
	if o.EmbeddingTTL <= 0 || o.SearchTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache TTLs must be positive"))
	}
	return errs
}

// AnswerOptions 问答配置。
type AnswerOptions struct {
	HistoryWindow int           `json:"history-window" mapstructure:"history-window"`
	Temperature   float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int           `json:"max-tokens" mapstructure:"max-tokens"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	// SystemPrompt 为空时使用内置提示词。
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`
}

// NewAnswerOptions 创建默认问答配置。
func NewAnswerOptions() *AnswerOptions {
	return &AnswerOptions{
		HistoryWindow: 5,
		Temperature:   0.3,
		MaxTokens:     1000,
		Timeout:       60 * time.Second,
	}
}

// AddFlags adds flags for answer options to the specified FlagSet.
func (o *AnswerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "answer."
	fs.IntVar(&o.HistoryWindow, p+"history-window", o.HistoryWindow, "Recent session turns included as context.")
	fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Sampling temperature.")
	fs.IntVar(&o.MaxTokens, p+"max-tokens", o.MaxTokens, "Maximum tokens in a generated answer.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Timeout of one question, retrieval included.")
	fs.StringVar(&o.SystemPrompt, p+"system-prompt", o.SystemPrompt, "System prompt override.")
}

// Validate validates the answer options.
func (o *AnswerOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("answer.history-window must not be negative"))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("answer.temperature must be in [0,2]"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("answer.timeout must be positive"))
	}
	return errs
}

// FirecrawlOptions 托管抓取 API 配置。
type FirecrawlOptions struct {
	BaseURL string        `json:"base-url" mapstructure:"base-url"`
	APIKey  string        `json:"-" mapstructure:"api-key"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxWait time.Duration `json:"max-wait" mapstructure:"max-wait"`
}

// CrawlerOptions 网站抓取配置。
type CrawlerOptions struct {
	// Strategy auto、firecrawl 或 custom。
	Strategy      string            `json:"strategy" mapstructure:"strategy"`
	Depth         int               `json:"depth" mapstructure:"depth"`
	MaxPages      int               `json:"max-pages" mapstructure:"max-pages"`
	Rate          float64           `json:"rate" mapstructure:"rate"`
	RespectRobots bool              `json:"respect-robots" mapstructure:"respect-robots"`
	UserAgent     string            `json:"user-agent" mapstructure:"user-agent"`
	Timeout       time.Duration     `json:"timeout" mapstructure:"timeout"`
	Firecrawl     *FirecrawlOptions `json:"firecrawl" mapstructure:"firecrawl"`
}

// NewCrawlerOptions 创建默认抓取配置。UserAgent 为空时使用浏览器 UA。
func NewCrawlerOptions() *CrawlerOptions {
	return &CrawlerOptions{
		Strategy:      "auto",
		Depth:         1,
		MaxPages:      50,
		Rate:          2,
		RespectRobots: true,
		Timeout:       30 * time.Second,
		Firecrawl: &FirecrawlOptions{
			BaseURL: "https://api.firecrawl.dev",
			Timeout: 60 * time.Second,
			MaxWait: 5 * time.Minute,
		},
	}
}

// AddFlags adds flags for crawler options to the specified FlagSet.
func (o *CrawlerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "crawler."
	fs.StringVar(&o.Strategy, p+"strategy", o.Strategy, "Default crawl strategy (auto, firecrawl, custom).")
	fs.IntVar(&o.Depth, p+"depth", o.Depth, "Default crawl depth.")
	fs.IntVar(&o.MaxPages, p+"max-pages", o.MaxPages, "Maximum pages per site.")
	fs.Float64Var(&o.Rate, p+"rate", o.Rate, "Requests per second per host for the built-in crawler.")
	fs.BoolVar(&o.RespectRobots, p+"respect-robots", o.RespectRobots, "Honour robots.txt in the built-in crawler.")
	fs.StringVar(&o.UserAgent, p+"user-agent", o.UserAgent, "User agent of the built-in crawler.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Per-request timeout of the built-in crawler.")

	if o.Firecrawl == nil {
		o.Firecrawl = NewCrawlerOptions().Firecrawl
	}
	fs.StringVar(&o.Firecrawl.BaseURL, p+"firecrawl.base-url", o.Firecrawl.BaseURL, "Firecrawl API base URL.")
	fs.StringVar(&o.Firecrawl.APIKey, p+"firecrawl.api-key", o.Firecrawl.APIKey, "Firecrawl API key (or FIRECRAWL_API_KEY).")
	fs.DurationVar(&o.Firecrawl.Timeout, p+"firecrawl.timeout", o.Firecrawl.Timeout, "Firecrawl request timeout.")
	fs.DurationVar(&o.Firecrawl.MaxWait, p+"firecrawl.max-wait", o.Firecrawl.MaxWait, "Longest wait for a Firecrawl crawl job.")
}

// Complete reads the Firecrawl key from the environment when unset.
func (o *CrawlerOptions) Complete() error {
	if o.Firecrawl == nil {
		o.Firecrawl = NewCrawlerOptions().Firecrawl
	}
	if o.Firecrawl.APIKey == "" {
		o.Firecrawl.APIKey = os.Getenv("FIRECRAWL_API_KEY")
	}
	return nil
}

// Validate validates the crawler options.
func (o *CrawlerOptions) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	switch o.Strategy {
	case "", "auto", "firecrawl", "custom":
	default:
		errs = append(errs, fmt.Errorf("crawler.strategy must be auto, firecrawl or custom, got %q", o.Strategy))
	}
	if o.Strategy == "firecrawl" && (o.Firecrawl == nil || o.Firecrawl.APIKey == "") {
		errs = append(errs, fmt.Errorf("crawler.strategy firecrawl requires crawler.firecrawl.api-key"))
	}
	if o.Depth < 1 {
		errs = append(errs, fmt.Errorf("crawler.depth must be at least 1"))
	}
	if o.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("crawler.max-pages must be at least 1"))
	}
	if o.Rate <= 0 {
		errs = append(errs, fmt.Errorf("crawler.rate must be positive"))
	}
	return errs
}

// MediaOptions 外部媒体工具配置。
type MediaOptions struct {
	Tesseract   string `json:"tesseract" mapstructure:"tesseract"`
	FFmpeg      string `json:"ffmpeg" mapstructure:"ffmpeg"`
	YTDLP       string `json:"yt-dlp" mapstructure:"yt-dlp"`
	OCRLanguage string `json:"ocr-language" mapstructure:"ocr-language"`
	WorkDir     string `json:"work-dir" mapstructure:"work-dir"`
}

// NewMediaOptions 创建默认媒体工具配置，工具从 PATH 中查找。
func NewMediaOptions() *MediaOptions {
	return &MediaOptions{
		Tesseract:   "tesseract",
		FFmpeg:      "ffmpeg",
		YTDLP:       "yt-dlp",
		OCRLanguage: "eng",
	}
}

// AddFlags adds flags for media options to the specified FlagSet.
func (o *MediaOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "media."
	fs.StringVar(&o.Tesseract, p+"tesseract", o.Tesseract, "Path of the tesseract binary.")
	fs.StringVar(&o.FFmpeg, p+"ffmpeg", o.FFmpeg, "Path of the ffmpeg binary.")
	fs.StringVar(&o.YTDLP, p+"yt-dlp", o.YTDLP, "Path of the yt-dlp binary.")
	fs.StringVar(&o.OCRLanguage, p+"ocr-language", o.OCRLanguage, "Tesseract language code.")
	fs.StringVar(&o.WorkDir, p+"work-dir", o.WorkDir, "Scratch directory for media jobs (default: system temp).")
}

// Validate validates the media options.
func (o *MediaOptions) Validate() []error {
	if o == nil {
		return nil
	}
	if o.WorkDir == "" {
		return nil
	}
	if fi, err := os.Stat(o.WorkDir); err != nil || !fi.IsDir() {
		return []error{fmt.Errorf("media.work-dir %q is not a directory", o.WorkDir)}
	}
	return nil
}
