package handler

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-kb/internal/kb/biz"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/utils/response"
)

// ChunkParams are the optional per-request chunking overrides.
type ChunkParams struct {
	ChunkSize    int `json:"chunk_size" form:"chunk_size" binding:"omitempty,min=100,max=10000"`
	ChunkOverlap int `json:"chunk_overlap" form:"chunk_overlap" binding:"omitempty,min=0,max=5000"`
}

func (p ChunkParams) options() biz.IngestOptions {
	return biz.IngestOptions{ChunkSize: p.ChunkSize, ChunkOverlap: p.ChunkOverlap}
}

// CreateItemRequest registers an item from inline text, an uploaded object or URLs.
type CreateItemRequest struct {
	Title       string            `json:"title" binding:"required,notblank,max=500"`
	Description string            `json:"description" binding:"max=5000"`
	ContentType model.ContentType `json:"content_type" binding:"omitempty,oneof=document website media youtube"`
	TenantID    string            `json:"tenant_id"`
	AgentIDs    []string          `json:"agent_ids"`
	BrandIDs    []string          `json:"brand_ids"`
	Metadata    map[string]any    `json:"metadata"`

	Text      string   `json:"text"`
	ObjectKey string   `json:"object_key" binding:"omitempty,objectkey"`
	Filename  string   `json:"filename" binding:"max=255"`
	MIMEType  string   `json:"mime_type"`
	URLs      []string `json:"urls" binding:"omitempty,max=20,dive,httpurl"`

	// Ingest defaults to true.
	Ingest *bool `json:"ingest"`
	ChunkParams
}

// CreateItem handles POST /api/v1/items.
func (h *Handler) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if !h.bind(c, &req, c.ShouldBindJSON) {
		return
	}

	ingest := req.Ingest == nil || *req.Ingest
	item, err := h.ingestor.CreateItem(c.Request.Context(), &biz.CreateItemRequest{
		Title:       req.Title,
		Description: req.Description,
		ContentType: req.ContentType,
		TenantID:    req.TenantID,
		AgentIDs:    req.AgentIDs,
		BrandIDs:    req.BrandIDs,
		Metadata:    req.Metadata,
		Source: model.Source{
			ObjectKey: req.ObjectKey,
			URLs:      req.URLs,
			Filename:  req.Filename,
			MIMEType:  req.MIMEType,
		},
		Text:    req.Text,
		Ingest:  ingest,
		Options: req.options(),
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, item)
}

// UploadForm carries the multipart fields next to the file.
type UploadForm struct {
	Title       string            `form:"title" binding:"max=500"`
	Description string            `form:"description" binding:"max=5000"`
	ContentType model.ContentType `form:"content_type" binding:"omitempty,oneof=document media"`
	TenantID    string            `form:"tenant_id"`
	AgentIDs    []string          `form:"agent_ids"`
	BrandIDs    []string          `form:"brand_ids"`
	ChunkParams
}

// Upload handles POST /api/v1/items/upload.
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)

	var form UploadForm
	if !h.bind(c, &form, c.ShouldBind) {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			h.failBind(c, err)
			return
		}
		response.Fail(c, errors.ErrKBInvalidRequest.WithMessage("multipart field \"file\" is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Fail(c, errors.ErrBadRequest.WithCause(err))
		return
	}
	defer f.Close()

	item, err := h.ingestor.Upload(c.Request.Context(), &biz.UploadRequest{
		CreateItemRequest: biz.CreateItemRequest{
			Title:       form.Title,
			Description: form.Description,
			ContentType: form.ContentType,
			TenantID:    form.TenantID,
			AgentIDs:    splitIDs(form.AgentIDs),
			BrandIDs:    splitIDs(form.BrandIDs),
			Options:     form.options(),
		},
		Filename: fh.Filename,
		MIMEType: fh.Header.Get("Content-Type"),
		Body:     f,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Accepted(c, item)
}

// GetItem handles GET /api/v1/items/:id.
func (h *Handler) GetItem(c *gin.Context) {
	item, err := h.ingestor.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, item)
}

// ListItemsQuery filters GET /api/v1/items.
type ListItemsQuery struct {
	TenantID    string                `form:"tenant_id"`
	AgentID     string                `form:"agent_id"`
	BrandID     string                `form:"brand_id"`
	ContentType model.ContentType     `form:"content_type" binding:"omitempty,oneof=document website media youtube"`
	Status      model.IngestionStatus `form:"status" binding:"omitempty,oneof=pending processing completed failed"`
	Offset      int                   `form:"offset" binding:"min=0"`
	Limit       int                   `form:"limit" binding:"omitempty,min=1,max=100"`
}

// ListItems handles GET /api/v1/items.
func (h *Handler) ListItems(c *gin.Context) {
	var q ListItemsQuery
	if !h.bind(c, &q, c.ShouldBindQuery) {
		return
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	items, total, err := h.ingestor.List(c.Request.Context(), model.ItemFilter{
		TenantID:    q.TenantID,
		AgentID:     q.AgentID,
		BrandID:     q.BrandID,
		ContentType: q.ContentType,
		Status:      q.Status,
		Offset:      q.Offset,
		Limit:       q.Limit,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Page(c, items, total, q.Offset, q.Limit)
}

// DeleteItem handles DELETE /api/v1/items/:id.
func (h *Handler) DeleteItem(c *gin.Context) {
	itemID := c.Param("id")
	if err := h.ingestor.Delete(c.Request.Context(), itemID); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"item_id": itemID, "deleted": true})
}

// TriggerIngest handles POST /api/v1/items/:id/ingest. The body is optional.
func (h *Handler) TriggerIngest(c *gin.Context) {
	var params ChunkParams
	if hasBody(c) && !h.bind(c, &params, c.ShouldBindJSON) {
		return
	}
	item, err := h.ingestor.Trigger(c.Request.Context(), c.Param("id"), params.options())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Accepted(c, item.StatusView())
}

// IngestionStatus handles GET /api/v1/items/:id/ingestion-status.
func (h *Handler) IngestionStatus(c *gin.Context) {
	view, err := h.ingestor.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, view)
}

// Compatibility handles GET /api/v1/items/:id/compatibility.
func (h *Handler) Compatibility(c *gin.Context) {
	compat, err := h.searcher.CheckCompatibility(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, compat)
}

// WebsiteRequest registers and crawls one or more sites.
type WebsiteRequest struct {
	Title       string         `json:"title" binding:"max=500"`
	Description string         `json:"description" binding:"max=5000"`
	TenantID    string         `json:"tenant_id"`
	AgentIDs    []string       `json:"agent_ids"`
	BrandIDs    []string       `json:"brand_ids"`
	Metadata    map[string]any `json:"metadata"`
	URLs        []string       `json:"urls" binding:"required,min=1,max=20,dive,httpurl"`

	CrawlStrategy string `json:"crawl_strategy" binding:"omitempty,oneof=auto firecrawl custom"`
	// ForceCrawler selects the built-in crawler regardless of CrawlStrategy.
	ForceCrawler bool `json:"force_crawler"`
	MaxDepth     int  `json:"max_depth" binding:"omitempty,min=1,max=5"`
	MaxPages     int  `json:"max_pages" binding:"omitempty,min=1,max=500"`
	ChunkParams
}

// CreateWebsite handles POST /api/v1/websites.
func (h *Handler) CreateWebsite(c *gin.Context) {
	var req WebsiteRequest
	if !h.bind(c, &req, c.ShouldBindJSON) {
		return
	}
	strategy := req.CrawlStrategy
	if req.ForceCrawler {
		strategy = "custom"
	}
	title := req.Title
	if title == "" {
		title = hostOf(req.URLs[0])
	}

	item, err := h.ingestor.CreateItem(c.Request.Context(), &biz.CreateItemRequest{
		Title:       title,
		Description: req.Description,
		ContentType: model.ContentTypeWebsite,
		TenantID:    req.TenantID,
		AgentIDs:    req.AgentIDs,
		BrandIDs:    req.BrandIDs,
		Metadata:    req.Metadata,
		Source: model.Source{
			URLs:          req.URLs,
			CrawlStrategy: strategy,
			MaxDepth:      req.MaxDepth,
			MaxPages:      req.MaxPages,
		},
		Ingest:  true,
		Options: req.options(),
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Accepted(c, item)
}

// YouTubeRequest registers a video for download and transcription.
type YouTubeRequest struct {
	URL         string         `json:"url" binding:"required,httpurl"`
	Title       string         `json:"title" binding:"max=500"`
	Description string         `json:"description" binding:"max=5000"`
	TenantID    string         `json:"tenant_id"`
	AgentIDs    []string       `json:"agent_ids"`
	BrandIDs    []string       `json:"brand_ids"`
	Metadata    map[string]any `json:"metadata"`
	ChunkParams
}

// ProcessYouTube handles POST /api/v1/youtube/process.
func (h *Handler) ProcessYouTube(c *gin.Context) {
	var req YouTubeRequest
	if !h.bind(c, &req, c.ShouldBindJSON) {
		return
	}
	title := req.Title
	if title == "" {
		title = req.URL
	}
	item, err := h.ingestor.CreateItem(c.Request.Context(), &biz.CreateItemRequest{
		Title:       title,
		Description: req.Description,
		ContentType: model.ContentTypeYouTube,
		TenantID:    req.TenantID,
		AgentIDs:    req.AgentIDs,
		BrandIDs:    req.BrandIDs,
		Metadata:    req.Metadata,
		Source:      model.Source{URLs: []string{req.URL}},
		Ingest:      true,
		Options:     req.options(),
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Accepted(c, item)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
