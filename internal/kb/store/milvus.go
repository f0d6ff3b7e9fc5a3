package store

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
	"github.com/kart-io/sentinel-kb/pkg/component/milvus"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/utils/json"
)

// Milvus 标量字段。
const (
	fieldChunkID     = "chunk_id"
	fieldItemID      = "item_id"
	fieldGeneration  = "generation"
	fieldTenantID    = "tenant_id"
	fieldContentType = "content_type"
	fieldChunkIndex  = "chunk_index"
	fieldStartPos    = "start_pos"
	fieldEndPos      = "end_pos"
	fieldTokenCount  = "token_count"
	fieldText        = "text"
	fieldPayload     = "payload"

	maxTextBytes  = 65535
	maxTitleBytes = 1024
)

var chunkFields = []milvus.Field{
	{Name: fieldChunkID, DataType: entity.FieldTypeVarChar, MaxLen: 256, PrimaryKey: true},
	{Name: fieldItemID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
	{Name: fieldGeneration, DataType: entity.FieldTypeVarChar, MaxLen: 64},
	{Name: fieldTenantID, DataType: entity.FieldTypeVarChar, MaxLen: 128},
	{Name: fieldContentType, DataType: entity.FieldTypeVarChar, MaxLen: 32},
	{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
	{Name: fieldStartPos, DataType: entity.FieldTypeInt64},
	{Name: fieldEndPos, DataType: entity.FieldTypeInt64},
	{Name: fieldTokenCount, DataType: entity.FieldTypeInt64},
	{Name: fieldText, DataType: entity.FieldTypeVarChar, MaxLen: maxTextBytes},
	{Name: fieldPayload, DataType: entity.FieldTypeJSON},
}

var searchOutputFields = []string{
	fieldItemID, fieldGeneration, fieldTenantID, fieldContentType,
	fieldChunkIndex, fieldStartPos, fieldEndPos, fieldTokenCount, fieldText, fieldPayload,
}

// chunkPayload 不参与过滤的字段，以 JSON 列保存。
type chunkPayload struct {
	Title     string         `json:"title"`
	AgentIDs  []string       `json:"agent_ids,omitempty"`
	BrandIDs  []string       `json:"brand_ids,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	CreatedAt time.Time      `json:"created_at"`
}

// MilvusChunks 基于 Milvus 的向量存储，每个向量维度一个集合。
type MilvusChunks struct {
	client *milvus.Client
}

// NewMilvusChunks 创建 Milvus 向量存储。
func NewMilvusChunks(client *milvus.Client) *MilvusChunks {
	return &MilvusChunks{client: client}
}

func (s *MilvusChunks) collection(dim int) string {
	return s.client.Options().CollectionName(dim)
}

func (s *MilvusChunks) ensure(ctx context.Context, dim int) (string, error) {
	name := s.collection(dim)
	err := s.client.EnsureCollection(ctx, &milvus.CollectionSchema{
		Name:        name,
		Description: fmt.Sprintf("knowledge base chunks, dim=%d", dim),
		Dimension:   dim,
		Fields:      chunkFields,
	})
	if err != nil {
		return "", errors.ErrKBStorage.WithCause(err).WithMessagef("ensure collection %s", name)
	}
	return name, nil
}

// Insert 写入同一维度的文本块。一次调用中的文本块必须维度一致。
func (s *MilvusChunks) Insert(ctx context.Context, chunks []model.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	dim := len(chunks[0].Embedding)
	if dim == 0 {
		return errors.ErrKBEmbeddingFailed.WithMessage("chunk has empty embedding")
	}
	coll, err := s.ensure(ctx, dim)
	if err != nil {
		return err
	}

	n := len(chunks)
	ids := make([]string, n)
	itemIDs := make([]string, n)
	gens := make([]string, n)
	tenants := make([]string, n)
	types := make([]string, n)
	indexes := make([]int64, n)
	starts := make([]int64, n)
	ends := make([]int64, n)
	tokens := make([]int64, n)
	texts := make([]string, n)
	payloads := make([][]byte, n)
	vectors := make([][]float32, n)

	for i, c := range chunks {
		if len(c.Embedding) != dim {
			return errors.ErrKBDimensionMismatch.WithMessagef("chunk %d has dimension %d, batch has %d", c.Index, len(c.Embedding), dim)
		}
		ids[i] = c.ID
		if ids[i] == "" {
			ids[i] = model.ChunkID(c.ItemID, c.Generation, c.Index)
		}
		itemIDs[i] = c.ItemID
		gens[i] = c.Generation
		tenants[i] = c.TenantID
		types[i] = string(c.ContentType)
		indexes[i] = int64(c.Index)
		starts[i] = int64(c.Start)
		ends[i] = int64(c.End)
		tokens[i] = int64(c.TokenCount)
		texts[i] = truncateBytes(c.Text, maxTextBytes)
		vectors[i] = c.Embedding

		payloads[i], err = json.Marshal(chunkPayload{
			Title:     truncateBytes(c.Title, maxTitleBytes),
			AgentIDs:  c.AgentIDs,
			BrandIDs:  c.BrandIDs,
			Metadata:  c.Metadata,
			Provider:  c.Provider,
			Model:     c.Model,
			CreatedAt: c.CreatedAt,
		})
		if err != nil {
			return errors.ErrKBStorage.WithCause(err).WithMessage("encode chunk payload")
		}
	}

	err = s.client.Insert(ctx, coll,
		column.NewColumnVarChar(fieldChunkID, ids),
		column.NewColumnVarChar(fieldItemID, itemIDs),
		column.NewColumnVarChar(fieldGeneration, gens),
		column.NewColumnVarChar(fieldTenantID, tenants),
		column.NewColumnVarChar(fieldContentType, types),
		column.NewColumnInt64(fieldChunkIndex, indexes),
		column.NewColumnInt64(fieldStartPos, starts),
		column.NewColumnInt64(fieldEndPos, ends),
		column.NewColumnInt64(fieldTokenCount, tokens),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnJSONBytes(fieldPayload, payloads),
		column.NewColumnFloatVector(milvus.VectorField, dim, vectors),
	)
	if err != nil {
		return errors.ErrKBStorage.WithCause(err).WithMessagef("insert %d chunks", n)
	}
	logger.Debugw("chunks inserted", "collection", coll, "count", n)
	return nil
}

// Search 在查询向量维度对应的集合中检索。集合不存在说明该维度下没有数据。
func (s *MilvusChunks) Search(ctx context.Context, q VectorQuery) ([]model.ScoredChunk, error) {
	dim := len(q.Vector)
	coll := s.collection(dim)
	names, err := s.client.ListCollections(ctx, coll)
	if err != nil {
		return nil, errors.ErrKBStorage.WithCause(err)
	}
	if !textutil.ContainsString(names, coll) {
		return []model.ScoredChunk{}, nil
	}
	if _, err := s.ensure(ctx, dim); err != nil {
		return nil, err
	}

	types := make([]string, len(q.ContentTypes))
	for i, t := range q.ContentTypes {
		types[i] = string(t)
	}
	filter := milvus.And(milvus.Eq(fieldTenantID, q.TenantID), milvus.In(fieldContentType, types))

	hits, err := s.client.Search(ctx, coll, q.Vector, q.TopK, filter, searchOutputFields)
	if err != nil {
		return nil, errors.ErrKBStorage.WithCause(err).WithMessage("vector search")
	}

	out := make([]model.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, err := decodeHit(h, dim)
		if err != nil {
			logger.Warnw("skip undecodable chunk", "chunk_id", h.ID, "error", err.Error())
			continue
		}
		out = append(out, model.ScoredChunk{Chunk: c, Score: float64(h.Score)})
	}
	return out, nil
}

func decodeHit(h milvus.Hit, dim int) (model.ChunkRecord, error) {
	c := model.ChunkRecord{ID: h.ID, Dimension: dim}
	c.ItemID, _ = h.Fields[fieldItemID].(string)
	c.Generation, _ = h.Fields[fieldGeneration].(string)
	c.TenantID, _ = h.Fields[fieldTenantID].(string)
	c.Text, _ = h.Fields[fieldText].(string)
	if t, ok := h.Fields[fieldContentType].(string); ok {
		c.ContentType = model.ContentType(t)
	}
	c.Index = int(asInt64(h.Fields[fieldChunkIndex]))
	c.Start = int(asInt64(h.Fields[fieldStartPos]))
	c.End = int(asInt64(h.Fields[fieldEndPos]))
	c.TokenCount = int(asInt64(h.Fields[fieldTokenCount]))

	if raw, ok := h.Fields[fieldPayload].([]byte); ok && len(raw) > 0 {
		var p chunkPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return c, err
		}
		c.Title = p.Title
		c.AgentIDs = p.AgentIDs
		c.BrandIDs = p.BrandIDs
		c.Metadata = p.Metadata
		c.Provider = p.Provider
		c.Model = p.Model
		c.CreatedAt = p.CreatedAt
	}
	return c, nil
}

func asInt64(v any) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	return 0
}

// deleteAll 在所有维度的集合上执行删除。条目在重新索引时可能换过维度。
func (s *MilvusChunks) deleteAll(ctx context.Context, filter string) (int64, error) {
	names, err := s.client.ListCollections(ctx, s.client.Options().CollectionPrefix)
	if err != nil {
		return 0, errors.ErrKBStorage.WithCause(err)
	}
	var total int64
	for _, name := range names {
		n, err := s.client.DeleteByFilter(ctx, name, filter)
		if err != nil {
			return total, errors.ErrKBStorage.WithCause(err).WithMessagef("delete from %s", name)
		}
		total += n
	}
	return total, nil
}

func (s *MilvusChunks) DeleteByItem(ctx context.Context, itemID string) (int64, error) {
	return s.deleteAll(ctx, milvus.Eq(fieldItemID, itemID))
}

func (s *MilvusChunks) DeleteGeneration(ctx context.Context, itemID, generation string) (int64, error) {
	return s.deleteAll(ctx, milvus.And(milvus.Eq(fieldItemID, itemID), milvus.Eq(fieldGeneration, generation)))
}

func (s *MilvusChunks) DeleteGenerationsExcept(ctx context.Context, itemID, keep string) (int64, error) {
	return s.deleteAll(ctx, milvus.And(milvus.Eq(fieldItemID, itemID), milvus.Ne(fieldGeneration, keep)))
}

func (s *MilvusChunks) CountByItem(ctx context.Context, itemID, generation string) (int64, error) {
	names, err := s.client.ListCollections(ctx, s.client.Options().CollectionPrefix)
	if err != nil {
		return 0, errors.ErrKBStorage.WithCause(err)
	}
	filter := milvus.Eq(fieldItemID, itemID)
	if generation != "" {
		filter = milvus.And(filter, milvus.Eq(fieldGeneration, generation))
	}
	var total int64
	for _, name := range names {
		rows, err := s.client.Query(ctx, name, filter, []string{fieldChunkID})
		if err != nil {
			return 0, errors.ErrKBStorage.WithCause(err).WithMessagef("count chunks in %s", name)
		}
		total += int64(len(rows))
	}
	return total, nil
}

// truncateBytes 在 rune 边界处截断到不超过 max 字节。
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

var _ ChunkStore = (*MilvusChunks)(nil)
