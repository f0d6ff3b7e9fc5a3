package biz

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/internal/kb/extract"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/id"
	"github.com/kart-io/sentinel-kb/pkg/objstore"
)

// IngestOptions 单次索引的分块参数，零值使用服务默认值。
type IngestOptions struct {
	ChunkSize    int `json:"chunk_size,omitempty"`
	ChunkOverlap int `json:"chunk_overlap,omitempty"`
}

// CreateItemRequest 注册内容条目。
//
// 内容来源三选一：Text（直接提交的文本，写入对象存储）、Source.ObjectKey（已上传的对象）
// 或 Source.URLs（网站与 YouTube）。
type CreateItemRequest struct {
	Title       string
	Description string
	ContentType model.ContentType
	TenantID    string
	AgentIDs    []string
	BrandIDs    []string
	Metadata    map[string]any
	Source      model.Source
	Text        string

	// Ingest 为 true 时创建后立即开始索引。
	Ingest  bool
	Options IngestOptions
}

// UploadRequest 上传文件并注册为条目。
type UploadRequest struct {
	CreateItemRequest

	Filename string
	MIMEType string
	Body     io.Reader
}

// CreateItem 注册条目。有内容且 Ingest 为 true 时进入 processing，否则保持 pending。
func (s *Ingestor) CreateItem(ctx context.Context, req *CreateItemRequest) (*model.ContentItem, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := s.now()
	item := &model.ContentItem{
		ID:          id.NewULID(),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		ContentType: req.ContentType,
		TenantID:    req.TenantID,
		AgentIDs:    req.AgentIDs,
		BrandIDs:    req.BrandIDs,
		Metadata:    copyMetadata(req.Metadata),
		Source:      req.Source,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(item.Source.URLs) > 0 {
		item.Metadata["url"] = item.Source.URLs[0]
	}

	if req.Text != "" {
		filename := req.Source.Filename
		if filename == "" {
			filename = "content.txt"
		}
		if err := s.putObject(ctx, item, filename, "text/plain; charset=utf-8", strings.NewReader(req.Text)); err != nil {
			return nil, err
		}
	}

	if err := s.items.Create(ctx, item); err != nil {
		return nil, err
	}
	logger.Infow("Knowledge item created", "item_id", item.ID, "tenant_id", item.TenantID, "content_type", item.ContentType)

	if !req.Ingest || !hasSource(item) {
		return item, nil
	}
	return s.Trigger(ctx, item.ID, req.Options)
}

// Upload 把文件写入对象存储后注册条目并开始索引。
func (s *Ingestor) Upload(ctx context.Context, req *UploadRequest) (*model.ContentItem, error) {
	if req.Body == nil || req.Filename == "" {
		return nil, errors.ErrKBInvalidRequest.WithMessage("file is required")
	}
	if req.ContentType == "" {
		req.ContentType = model.ContentTypeDocument
		if extract.Resolve(model.ContentTypeDocument, &extract.Input{Filename: req.Filename, MIMEType: req.MIMEType}).IsMedia() {
			req.ContentType = model.ContentTypeMedia
		}
	}
	if req.Title == "" {
		req.Title = req.Filename
	}
	if err := validateCreate(&req.CreateItemRequest); err != nil {
		return nil, err
	}

	itemID := id.NewULID()
	key := s.keys.GenerateKey(string(req.ContentType), req.TenantID, req.Filename, itemID)
	info, err := s.bucket.Put(ctx, key, req.Body, objstore.PutOptions{
		ContentType: req.MIMEType,
		Metadata:    map[string]string{"filename": req.Filename, "item_id": itemID},
	})
	if err != nil {
		return nil, storageErr(err, "store upload")
	}

	now := s.now()
	item := &model.ContentItem{
		ID:          itemID,
		Title:       req.Title,
		Description: req.Description,
		ContentType: req.ContentType,
		TenantID:    req.TenantID,
		AgentIDs:    req.AgentIDs,
		BrandIDs:    req.BrandIDs,
		Metadata:    copyMetadata(req.Metadata),
		Source: model.Source{
			ObjectKey: key,
			Filename:  req.Filename,
			MIMEType:  req.MIMEType,
			Size:      info.Size,
		},
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	item.Metadata["filename"] = req.Filename

	if err := s.items.Create(ctx, item); err != nil {
		s.deleteObject(key)
		return nil, err
	}
	logger.Infow("Knowledge item uploaded", "item_id", item.ID, "tenant_id", item.TenantID, "object_key", key, "size", info.Size)
	return s.Trigger(ctx, item.ID, req.Options)
}

// Get 读取条目。
func (s *Ingestor) Get(ctx context.Context, itemID string) (*model.ContentItem, error) {
	return s.items.Get(ctx, itemID)
}

// List 分页列出条目。
func (s *Ingestor) List(ctx context.Context, filter model.ItemFilter) ([]*model.ContentItem, int64, error) {
	if filter.TenantID == "" {
		return nil, 0, errors.ErrKBTenantRequired
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return s.items.List(ctx, filter)
}

// Status 返回条目的索引状态。
func (s *Ingestor) Status(ctx context.Context, itemID string) (*model.IngestionStatusView, error) {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	view := item.StatusView()
	return &view, nil
}

// Delete 删除条目及其全部分块和源对象，并清理租户的检索缓存。
func (s *Ingestor) Delete(ctx context.Context, itemID string) error {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return err
	}

	removed, err := s.chunks.DeleteByItem(ctx, itemID)
	if err != nil {
		return storageErr(err, "delete chunks")
	}
	if err := s.items.Delete(ctx, itemID); err != nil {
		return err
	}

	for _, key := range objectKeys(item) {
		s.deleteObject(key)
	}
	s.invalidate(ctx, item.TenantID)

	logger.Infow("Knowledge item deleted", "item_id", itemID, "tenant_id", item.TenantID, "chunks_removed", removed)
	return nil
}

func (s *Ingestor) putObject(ctx context.Context, item *model.ContentItem, filename, mimeType string, r io.Reader) error {
	key := s.keys.GenerateKey(string(item.ContentType), item.TenantID, filename, item.ID)
	info, err := s.bucket.Put(ctx, key, r, objstore.PutOptions{
		ContentType: mimeType,
		Metadata:    map[string]string{"filename": filename, "item_id": item.ID},
	})
	if err != nil {
		return storageErr(err, "store content")
	}
	item.Source.ObjectKey = key
	item.Source.Filename = filename
	item.Source.MIMEType = mimeType
	item.Source.Size = info.Size
	return nil
}

func (s *Ingestor) deleteObject(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.bucket.Delete(ctx, key); err != nil {
		logger.Warnw("Failed to delete source object", "object_key", key, "error", err.Error())
	}
}

func validateCreate(req *CreateItemRequest) error {
	if req.TenantID == "" {
		return errors.ErrKBTenantRequired
	}
	if req.ContentType == "" {
		req.ContentType = model.ContentTypeDocument
	}
	if !req.ContentType.Valid() {
		return errors.ErrKBUnsupportedContent.WithMessagef("unsupported content type %q", req.ContentType)
	}
	if req.Source.CrawlStrategy != "" && !extract.ValidStrategy(req.Source.CrawlStrategy) {
		return errors.ErrKBInvalidRequest.WithMessagef("unknown crawl strategy %q", req.Source.CrawlStrategy)
	}
	for _, raw := range req.Source.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.ErrKBInvalidURL.WithMessagef("invalid URL %q", raw)
		}
	}
	switch req.ContentType {
	case model.ContentTypeWebsite, model.ContentTypeYouTube:
		if len(req.Source.URLs) == 0 {
			return errors.ErrKBInvalidURL.WithMessagef("%s items require at least one URL", req.ContentType)
		}
	}
	if err := validOptions(req.Options); err != nil {
		return err
	}
	return nil
}

func validOptions(o IngestOptions) error {
	if o.ChunkSize < 0 || o.ChunkOverlap < 0 {
		return errors.ErrKBInvalidRequest.WithMessage("chunk size and overlap must not be negative")
	}
	if o.ChunkSize > 0 && o.ChunkOverlap >= o.ChunkSize {
		return errors.ErrKBInvalidRequest.WithMessage("chunk overlap must be smaller than chunk size")
	}
	return nil
}

func hasSource(item *model.ContentItem) bool {
	return item.Source.ObjectKey != "" || len(item.Source.URLs) > 0
}

// objectKeys 条目持有的对象：上传的源文件与 YouTube 下载的视频。
func objectKeys(item *model.ContentItem) []string {
	var keys []string
	if item.Source.ObjectKey != "" {
		keys = append(keys, item.Source.ObjectKey)
	}
	if k, ok := item.Metadata["object_key"].(string); ok && k != "" && k != item.Source.ObjectKey {
		keys = append(keys, k)
	}
	return keys
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func storageErr(err error, op string) error {
	if errors.GetCode(err) != -1 {
		return err
	}
	return errors.ErrKBStorage.WithCause(err).WithMessagef("%s: %v", op, err)
}
