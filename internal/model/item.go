// Package model defines the persisted knowledge-base records.
//
// Struct tags serve both the HTTP API (json) and MongoDB (bson).
package model

import (
	"time"

	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
)

// ContentType 内容类型。
type ContentType string

const (
	ContentTypeDocument ContentType = "document"
	ContentTypeWebsite  ContentType = "website"
	ContentTypeMedia    ContentType = "media"
	ContentTypeYouTube  ContentType = "youtube"
)

// Valid 是否为已知内容类型。
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeDocument, ContentTypeWebsite, ContentTypeMedia, ContentTypeYouTube:
		return true
	}
	return false
}

// IngestionStatus 索引状态：pending → processing → completed | failed。
type IngestionStatus string

const (
	StatusPending    IngestionStatus = "pending"
	StatusProcessing IngestionStatus = "processing"
	StatusCompleted  IngestionStatus = "completed"
	StatusFailed     IngestionStatus = "failed"
)

// Source 原始内容定位信息：对象存储键或 URL 列表。
type Source struct {
	ObjectKey string   `json:"object_key,omitempty" bson:"object_key,omitempty"`
	URLs      []string `json:"urls,omitempty" bson:"urls,omitempty"`
	Filename  string   `json:"filename,omitempty" bson:"filename,omitempty"`
	MIMEType  string   `json:"mime_type,omitempty" bson:"mime_type,omitempty"`
	Size      int64    `json:"size,omitempty" bson:"size,omitempty"`

	// 网站抓取参数
	CrawlStrategy string `json:"crawl_strategy,omitempty" bson:"crawl_strategy,omitempty"`
	MaxDepth      int    `json:"max_depth,omitempty" bson:"max_depth,omitempty"`
	MaxPages      int    `json:"max_pages,omitempty" bson:"max_pages,omitempty"`
}

// IngestionStats 索引统计。
type IngestionStats struct {
	ChunksCreated     int        `json:"chunks_created" bson:"chunks_created"`
	TotalCharacters   int        `json:"total_characters" bson:"total_characters"`
	EstimatedTokens   int        `json:"estimated_tokens" bson:"estimated_tokens"`
	WordCount         int        `json:"word_count" bson:"word_count"`
	ProcessingSeconds float64    `json:"processing_time_seconds" bson:"processing_seconds"`
	Provider          string     `json:"embedding_provider,omitempty" bson:"provider,omitempty"`
	Model             string     `json:"embedding_model,omitempty" bson:"model,omitempty"`
	Dimension         int        `json:"embedding_dimension,omitempty" bson:"dimension,omitempty"`
	ChunkSize         int        `json:"chunk_size,omitempty" bson:"chunk_size,omitempty"`
	ChunkOverlap      int        `json:"chunk_overlap,omitempty" bson:"chunk_overlap,omitempty"`
	SourcesAttempted  int        `json:"sources_attempted,omitempty" bson:"sources_attempted,omitempty"`
	SourcesFailed     int        `json:"sources_failed,omitempty" bson:"sources_failed,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty" bson:"failed_at,omitempty"`
}

// ContentItem 一个知识条目（文档、网站、媒体或 YouTube 视频）。
type ContentItem struct {
	ID          string         `json:"id" bson:"_id"`
	Title       string         `json:"title" bson:"title"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	ContentType ContentType    `json:"content_type" bson:"content_type"`
	TenantID    string         `json:"tenant_id" bson:"tenant_id"`
	AgentIDs    []string       `json:"agent_ids,omitempty" bson:"agent_ids,omitempty"`
	BrandIDs    []string       `json:"brand_ids,omitempty" bson:"brand_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Source      Source         `json:"source" bson:"source"`

	Status IngestionStatus `json:"status" bson:"status"`
	Text   string          `json:"text,omitempty" bson:"text,omitempty"`
	Stats  IngestionStats  `json:"ingestion_stats" bson:"stats"`
	Error  string          `json:"error,omitempty" bson:"error,omitempty"`

	// ActiveGeneration 当前可检索的分块版本；JobID 为正在运行的任务。
	ActiveGeneration string `json:"active_generation,omitempty" bson:"active_generation,omitempty"`
	JobID            string `json:"job_id,omitempty" bson:"job_id,omitempty"`

	EmbeddingProvider string `json:"embedding_provider,omitempty" bson:"embedding_provider,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty" bson:"embedding_model,omitempty"`
	Dimension         int    `json:"embedding_dimension,omitempty" bson:"dimension,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// CanRead 判断条目是否对给定的 agent/brand 过滤条件可见。
// 空过滤条件表示不限制。
func (c *ContentItem) CanRead(agentIDs, brandIDs []string) bool {
	if len(agentIDs) > 0 && !textutil.Intersects(c.AgentIDs, agentIDs) {
		return false
	}
	if len(brandIDs) > 0 && !textutil.Intersects(c.BrandIDs, brandIDs) {
		return false
	}
	return true
}

// IngestionStatusView 索引状态查询的响应。
type IngestionStatusView struct {
	ItemID    string          `json:"item_id"`
	Status    IngestionStatus `json:"status"`
	Stats     IngestionStats  `json:"ingestion_stats"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StatusView 返回条目的索引状态视图。
func (c *ContentItem) StatusView() IngestionStatusView {
	return IngestionStatusView{
		ItemID:    c.ID,
		Status:    c.Status,
		Stats:     c.Stats,
		Error:     c.Error,
		UpdatedAt: c.UpdatedAt,
	}
}

// ItemFilter 条目列表过滤条件。
type ItemFilter struct {
	TenantID    string
	AgentID     string
	BrandID     string
	ContentType ContentType
	Status      IngestionStatus
	Offset      int
	Limit       int
}
