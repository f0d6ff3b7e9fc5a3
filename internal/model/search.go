package model

// SearchMode 检索模式。
type SearchMode string

const (
	SearchHybrid SearchMode = "hybrid"
	SearchVector SearchMode = "vector"
	SearchText   SearchMode = "text"
)

// Valid 是否为已知检索模式。
func (m SearchMode) Valid() bool {
	return m == SearchHybrid || m == SearchVector || m == SearchText
}

// SearchResult 检索结果，每个条目至多一条。
type SearchResult struct {
	ItemID      string         `json:"item_id"`
	Title       string         `json:"title"`
	ContentType ContentType    `json:"content_type"`
	Text        string         `json:"chunk_text"`
	Score       float64        `json:"score"`
	VectorScore float64        `json:"vector_score,omitempty"`
	TextScore   float64        `json:"text_score,omitempty"`
	ChunkIndex  int            `json:"chunk_index"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SourceRef 回答中引用的来源。
type SourceRef struct {
	ItemID      string      `json:"item_id" bson:"item_id"`
	Title       string      `json:"title" bson:"title"`
	ContentType ContentType `json:"content_type" bson:"content_type"`
	Score       float64     `json:"score" bson:"score"`
	URL         string      `json:"url,omitempty" bson:"url,omitempty"`
	Filename    string      `json:"filename,omitempty" bson:"filename,omitempty"`
}

// NewSourceRef 从检索结果构造引用，URL 与文件名取自元数据。
func NewSourceRef(r SearchResult) SourceRef {
	ref := SourceRef{
		ItemID:      r.ItemID,
		Title:       r.Title,
		ContentType: r.ContentType,
		Score:       r.Score,
	}
	if v, ok := r.Metadata["url"].(string); ok {
		ref.URL = v
	}
	if v, ok := r.Metadata["filename"].(string); ok {
		ref.Filename = v
	}
	return ref
}
