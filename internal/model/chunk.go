package model

import (
	"strconv"
	"time"
)

// ChunkRecord 一个已向量化的文本块。
// 父条目的标题、类型、租户与 ACL 字段冗余存储，以便检索时直接过滤。
type ChunkRecord struct {
	ID         string    `json:"id" bson:"_id"`
	ItemID     string    `json:"item_id" bson:"item_id"`
	Generation string    `json:"generation" bson:"generation"`
	Index      int       `json:"chunk_index" bson:"chunk_index"`
	Text       string    `json:"chunk_text" bson:"text"`
	Embedding  []float32 `json:"-" bson:"embedding"`
	Start      int       `json:"start_position" bson:"start"`
	End        int       `json:"end_position" bson:"end"`
	TokenCount int       `json:"token_count" bson:"token_count"`

	Provider  string `json:"embedding_provider" bson:"provider"`
	Model     string `json:"embedding_model" bson:"model"`
	Dimension int    `json:"embedding_dimension" bson:"dimension"`

	Title       string         `json:"title" bson:"title"`
	ContentType ContentType    `json:"content_type" bson:"content_type"`
	TenantID    string         `json:"tenant_id" bson:"tenant_id"`
	AgentIDs    []string       `json:"agent_ids,omitempty" bson:"agent_ids,omitempty"`
	BrandIDs    []string       `json:"brand_ids,omitempty" bson:"brand_ids,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// ChunkID 返回块的确定性主键。
func ChunkID(itemID, generation string, index int) string {
	return itemID + ":" + generation + ":" + strconv.Itoa(index)
}

// ScoredChunk 向量检索返回的候选块。
type ScoredChunk struct {
	Chunk ChunkRecord
	Score float64
}
