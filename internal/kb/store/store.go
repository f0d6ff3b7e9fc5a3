// Package store 定义知识库的持久化接口及其实现。
//
// 条目、会话与 agent 目录保存在 MongoDB；文本块向量保存在 Milvus。
// 内存实现用于测试和单机开发。
package store

import (
	"context"

	"github.com/kart-io/sentinel-kb/internal/model"
)

// Completion 一次成功索引需要写回条目的结果。
type Completion struct {
	Generation string
	Text       string
	Stats      model.IngestionStats
	Provider   string
	Model      string
	Dimension  int

	// Title 非空时覆盖条目标题；Metadata 逐键合并到条目元数据。
	Title    string
	Metadata map[string]any
}

// TextQuery 词法检索条件。
type TextQuery struct {
	Query        string
	TenantID     string
	AgentIDs     []string
	BrandIDs     []string
	ContentTypes []model.ContentType
	Limit        int
}

// TextHit 词法检索命中的条目。Score 为后端原始分数，由调用方归一化。
type TextHit struct {
	Item  *model.ContentItem
	Score float64
}

// VectorQuery 向量检索条件，只做租户与类型的预过滤。
type VectorQuery struct {
	Vector       []float32
	TenantID     string
	ContentTypes []model.ContentType
	TopK         int
}

// ItemStore 内容条目存储。
type ItemStore interface {
	// Create 保存新条目。
	Create(ctx context.Context, item *model.ContentItem) error

	// Get 按 ID 读取条目，不存在时返回 ErrKBItemNotFound。
	Get(ctx context.Context, id string) (*model.ContentItem, error)

	// GetMany 批量读取，缺失的 ID 不出现在结果中。
	GetMany(ctx context.Context, ids []string) (map[string]*model.ContentItem, error)

	// List 分页列出条目，返回当前页和总数。
	List(ctx context.Context, filter model.ItemFilter) ([]*model.ContentItem, int64, error)

	// Update 覆盖条目的可编辑字段。
	Update(ctx context.Context, item *model.ContentItem) error

	// BeginIngestion 将条目置为 processing 并记录任务 ID。
	BeginIngestion(ctx context.Context, id, jobID string) (*model.ContentItem, error)

	// CompleteIngestion 仅当条目仍由 jobID 持有时切换到新版本并置为 completed，
	// 否则返回 ErrKBStaleIngestion。
	CompleteIngestion(ctx context.Context, id, jobID string, c Completion) error

	// FailIngestion 记录失败信息，保留当前有效版本。
	FailIngestion(ctx context.Context, id, jobID, message string, stats model.IngestionStats) error

	// Delete 删除条目。
	Delete(ctx context.Context, id string) error

	// TextSearch 对标题、描述和正文做词法检索。
	TextSearch(ctx context.Context, q TextQuery) ([]TextHit, error)
}

// ChunkStore 文本块向量存储。
type ChunkStore interface {
	// Insert 批量写入文本块。
	Insert(ctx context.Context, chunks []model.ChunkRecord) error

	// Search 余弦相似度近邻检索，结果按分数降序。
	Search(ctx context.Context, q VectorQuery) ([]model.ScoredChunk, error)

	// DeleteByItem 删除条目的全部文本块，返回删除数量。
	DeleteByItem(ctx context.Context, itemID string) (int64, error)

	// DeleteGeneration 删除条目某一版本的文本块。
	DeleteGeneration(ctx context.Context, itemID, generation string) (int64, error)

	// DeleteGenerationsExcept 删除条目除 keep 之外所有版本的文本块。
	DeleteGenerationsExcept(ctx context.Context, itemID, keep string) (int64, error)

	// CountByItem 统计条目某一版本的文本块数量。
	CountByItem(ctx context.Context, itemID, generation string) (int64, error)
}

// SessionStore 对话会话存储。
type SessionStore interface {
	Create(ctx context.Context, s *model.ChatSession) error

	// Get 不存在时返回 ErrKBSessionNotFound。
	Get(ctx context.Context, id string) (*model.ChatSession, error)

	// AppendTurns 追加对话轮次。
	AppendTurns(ctx context.Context, id string, turns ...model.Turn) error

	// ClearHistory 清空对话轮次，保留会话本身。
	ClearHistory(ctx context.Context, id string) error
}

// AgentDirectory agent 到租户的映射。
type AgentDirectory interface {
	// GetAgent 不存在时返回 ErrKBAgentNotFound。
	GetAgent(ctx context.Context, id string) (*model.Agent, error)

	PutAgent(ctx context.Context, agent *model.Agent) error
}

func typeAllowed(types []model.ContentType, t model.ContentType) bool {
	if len(types) == 0 {
		return true
	}
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
