// Package extract 将原始内容（文件、网页、媒体、YouTube 视频）转换为纯文本。
//
// 每种内容由一个 Extractor 处理，Registry 按 Kind 分派，未注册的 Kind 回退到默认提取器。
package extract

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

// Kind 提取器类别。
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindDOCX     Kind = "docx"
	KindPPTX     Kind = "pptx"
	KindXLSX     Kind = "xlsx"
	KindCSV      Kind = "csv"
	KindHTML     Kind = "html"
	KindMarkdown Kind = "markdown"
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindWebsite  Kind = "website"
	KindYouTube  Kind = "youtube"

	// KindLegacyOffice 二进制 Office 格式（.doc/.xls/.ppt），只用于给出明确的拒绝原因。
	KindLegacyOffice Kind = "legacy-office"
)

// IsMedia 是否为媒体类别。
func (k Kind) IsMedia() bool {
	return k == KindImage || k == KindAudio || k == KindVideo
}

// CrawlOptions 网站抓取参数。
type CrawlOptions struct {
	// Strategy firecrawl|custom|auto，空值等同 auto。
	Strategy string
	MaxDepth int
	MaxPages int
}

// Input 一次提取的输入。文件类内容使用 Data，网站与 YouTube 使用 URLs。
type Input struct {
	ItemID   string
	TenantID string
	Filename string
	MIMEType string
	Data     []byte
	URLs     []string
	Crawl    CrawlOptions
}

// SourceFailure 一个来源的失败原因。
type SourceFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Result 提取结果。
type Result struct {
	Text     string
	Title    string
	Metadata map[string]any

	SourcesAttempted int
	SourcesFailed    int
	Failures         []SourceFailure
}

func (r *Result) setMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// Extractor 内容提取器。
type Extractor interface {
	Extract(ctx context.Context, in *Input) (*Result, error)
}

// ExtractorFunc 函数适配器。
type ExtractorFunc func(ctx context.Context, in *Input) (*Result, error)

// Extract 实现 Extractor。
func (f ExtractorFunc) Extract(ctx context.Context, in *Input) (*Result, error) {
	return f(ctx, in)
}

// Registry Kind 到 Extractor 的映射表。
type Registry struct {
	mu         sync.RWMutex
	extractors map[Kind]Extractor
	fallback   Kind
}

// NewRegistry 创建注册表，fallback 为未注册 Kind 的默认类别。
func NewRegistry(fallback Kind) *Registry {
	return &Registry{
		extractors: make(map[Kind]Extractor),
		fallback:   fallback,
	}
}

// Register 注册提取器，同名覆盖。
func (r *Registry) Register(kind Kind, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[kind] = e
}

// Lookup 查找提取器，未注册时返回默认提取器。
func (r *Registry) Lookup(kind Kind) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.extractors[kind]; ok {
		return e, true
	}
	e, ok := r.extractors[r.fallback]
	return e, ok
}

// Extract 按类别分派。提取器返回的非 Errno 错误统一包装为 ErrKBExtractionFailed。
func (r *Registry) Extract(ctx context.Context, kind Kind, in *Input) (*Result, error) {
	e, ok := r.Lookup(kind)
	if !ok {
		return nil, errors.ErrKBUnsupportedContent.WithMessagef("no extractor for %q", kind)
	}
	res, err := e.Extract(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var errno *errors.Errno
		if stderrors.As(err, &errno) {
			return nil, err
		}
		return nil, errors.ErrKBExtractionFailed.WithCause(err).WithMessagef("%s extraction failed", kind)
	}
	return res, nil
}

// NewDocumentRegistry 返回只包含文档类提取器的注册表，默认回退到纯文本。
func NewDocumentRegistry() *Registry {
	r := NewRegistry(KindText)
	r.Register(KindPDF, ExtractorFunc(extractPDF))
	r.Register(KindDOCX, ExtractorFunc(extractDOCX))
	r.Register(KindPPTX, ExtractorFunc(extractPPTX))
	r.Register(KindXLSX, ExtractorFunc(extractXLSX))
	r.Register(KindCSV, ExtractorFunc(extractCSV))
	r.Register(KindHTML, ExtractorFunc(extractHTMLDocument))
	r.Register(KindMarkdown, ExtractorFunc(extractText))
	r.Register(KindText, ExtractorFunc(extractText))
	r.Register(KindLegacyOffice, ExtractorFunc(rejectLegacyOffice))
	return r
}
