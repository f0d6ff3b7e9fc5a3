package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
	"github.com/kart-io/sentinel-kb/pkg/errors"
)

// MemoryItems 基于内存的条目存储。
type MemoryItems struct {
	mu    sync.RWMutex
	items map[string]*model.ContentItem
	now   func() time.Time
}

// NewMemoryItems 创建内存条目存储。
func NewMemoryItems() *MemoryItems {
	return &MemoryItems{items: make(map[string]*model.ContentItem), now: time.Now}
}

func cloneItem(it *model.ContentItem) *model.ContentItem {
	c := *it
	c.AgentIDs = append([]string(nil), it.AgentIDs...)
	c.BrandIDs = append([]string(nil), it.BrandIDs...)
	c.Source.URLs = append([]string(nil), it.Source.URLs...)
	if it.Metadata != nil {
		c.Metadata = make(map[string]any, len(it.Metadata))
		for k, v := range it.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (s *MemoryItems) Create(_ context.Context, item *model.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return errors.ErrKBInvalidRequest.WithMessagef("item %s already exists", item.ID)
	}
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *MemoryItems) Get(_ context.Context, id string) (*model.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, errors.ErrKBItemNotFound
	}
	return cloneItem(it), nil
}

func (s *MemoryItems) GetMany(_ context.Context, ids []string) (map[string]*model.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*model.ContentItem, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out[id] = cloneItem(it)
		}
	}
	return out, nil
}

func (s *MemoryItems) List(_ context.Context, f model.ItemFilter) ([]*model.ContentItem, int64, error) {
	s.mu.RLock()
	var matched []*model.ContentItem
	for _, it := range s.items {
		if f.TenantID != "" && it.TenantID != f.TenantID {
			continue
		}
		if f.AgentID != "" && !textutil.ContainsString(it.AgentIDs, f.AgentID) {
			continue
		}
		if f.BrandID != "" && !textutil.ContainsString(it.BrandIDs, f.BrandID) {
			continue
		}
		if f.ContentType != "" && it.ContentType != f.ContentType {
			continue
		}
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		matched = append(matched, cloneItem(it))
	}
	s.mu.RUnlock()

	// 新条目在前，与 Mongo 实现的排序一致
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return []*model.ContentItem{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *MemoryItems) Update(_ context.Context, item *model.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return errors.ErrKBItemNotFound
	}
	c := cloneItem(item)
	c.UpdatedAt = s.now()
	s.items[item.ID] = c
	return nil
}

func (s *MemoryItems) BeginIngestion(_ context.Context, id, jobID string) (*model.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, errors.ErrKBItemNotFound
	}
	it.Status = model.StatusProcessing
	it.JobID = jobID
	it.Error = ""
	it.UpdatedAt = s.now()
	return cloneItem(it), nil
}

func (s *MemoryItems) CompleteIngestion(_ context.Context, id, jobID string, c Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return errors.ErrKBItemNotFound
	}
	if it.Status != model.StatusProcessing || it.JobID != jobID {
		return errors.ErrKBStaleIngestion
	}
	it.Status = model.StatusCompleted
	it.JobID = ""
	it.Error = ""
	it.ActiveGeneration = c.Generation
	it.Text = c.Text
	it.Stats = c.Stats
	it.EmbeddingProvider = c.Provider
	it.EmbeddingModel = c.Model
	it.Dimension = c.Dimension
	if c.Title != "" {
		it.Title = c.Title
	}
	if len(c.Metadata) > 0 && it.Metadata == nil {
		it.Metadata = make(map[string]any, len(c.Metadata))
	}
	for k, v := range c.Metadata {
		it.Metadata[k] = v
	}
	it.UpdatedAt = s.now()
	return nil
}

func (s *MemoryItems) FailIngestion(_ context.Context, id, jobID, message string, stats model.IngestionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return errors.ErrKBItemNotFound
	}
	if it.JobID != jobID {
		return errors.ErrKBStaleIngestion
	}
	now := s.now()
	it.Status = model.StatusFailed
	it.JobID = ""
	it.Error = message
	it.Stats.FailedAt = &now
	it.Stats.SourcesAttempted = stats.SourcesAttempted
	it.Stats.SourcesFailed = stats.SourcesFailed
	it.UpdatedAt = now
	return nil
}

func (s *MemoryItems) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return errors.ErrKBItemNotFound
	}
	delete(s.items, id)
	return nil
}

// TextSearch 以查询词元的覆盖率作为分数，只检索已有生效代次的条目。
// 重新入库失败或进行中的条目仍按上一代次的内容参与检索。
func (s *MemoryItems) TextSearch(_ context.Context, q TextQuery) ([]TextHit, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, nil
	}
	s.mu.RLock()
	var hits []TextHit
	for _, it := range s.items {
		if it.TenantID != q.TenantID || it.ActiveGeneration == "" {
			continue
		}
		if !typeAllowed(q.ContentTypes, it.ContentType) || !it.CanRead(q.AgentIDs, q.BrandIDs) {
			continue
		}
		score := textutil.OverlapScore(q.Query, it.Title+"\n"+it.Description+"\n"+it.Text)
		if score > 0 {
			hits = append(hits, TextHit{Item: cloneItem(it), Score: score})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Item.ID < hits[j].Item.ID
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

// MemoryChunks 暴力检索的内存向量存储。
type MemoryChunks struct {
	mu     sync.RWMutex
	chunks map[string]model.ChunkRecord
}

// NewMemoryChunks 创建内存向量存储。
func NewMemoryChunks() *MemoryChunks {
	return &MemoryChunks{chunks: make(map[string]model.ChunkRecord)}
}

func (s *MemoryChunks) Insert(_ context.Context, chunks []model.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = model.ChunkID(c.ItemID, c.Generation, c.Index)
		}
		c.Embedding = append([]float32(nil), c.Embedding...)
		s.chunks[c.ID] = c
	}
	return nil
}

// Search 只比较与查询向量维度相同的文本块，与按维度分集合的 Milvus 行为一致。
func (s *MemoryChunks) Search(_ context.Context, q VectorQuery) ([]model.ScoredChunk, error) {
	s.mu.RLock()
	var out []model.ScoredChunk
	for _, c := range s.chunks {
		if len(c.Embedding) != len(q.Vector) {
			continue
		}
		if q.TenantID != "" && c.TenantID != q.TenantID {
			continue
		}
		if !typeAllowed(q.ContentTypes, c.ContentType) {
			continue
		}
		out = append(out, model.ScoredChunk{Chunk: c, Score: textutil.CosineSimilarity(q.Vector, c.Embedding)})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if q.TopK > 0 && len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func (s *MemoryChunks) deleteWhere(match func(model.ChunkRecord) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.chunks {
		if match(c) {
			delete(s.chunks, id)
			n++
		}
	}
	return n
}

func (s *MemoryChunks) DeleteByItem(_ context.Context, itemID string) (int64, error) {
	return s.deleteWhere(func(c model.ChunkRecord) bool { return c.ItemID == itemID }), nil
}

func (s *MemoryChunks) DeleteGeneration(_ context.Context, itemID, generation string) (int64, error) {
	return s.deleteWhere(func(c model.ChunkRecord) bool {
		return c.ItemID == itemID && c.Generation == generation
	}), nil
}

func (s *MemoryChunks) DeleteGenerationsExcept(_ context.Context, itemID, keep string) (int64, error) {
	return s.deleteWhere(func(c model.ChunkRecord) bool {
		return c.ItemID == itemID && c.Generation != keep
	}), nil
}

func (s *MemoryChunks) CountByItem(_ context.Context, itemID, generation string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, c := range s.chunks {
		if c.ItemID == itemID && (generation == "" || c.Generation == generation) {
			n++
		}
	}
	return n, nil
}

// MemorySessions 内存会话存储。
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]*model.ChatSession
	now      func() time.Time
}

// NewMemorySessions 创建内存会话存储。
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]*model.ChatSession), now: time.Now}
}

func cloneSession(s *model.ChatSession) *model.ChatSession {
	c := *s
	c.Turns = append([]model.Turn(nil), s.Turns...)
	return &c
}

func (m *MemorySessions) Create(_ context.Context, s *model.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MemorySessions) Get(_ context.Context, id string) (*model.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.ErrKBSessionNotFound
	}
	return cloneSession(s), nil
}

func (m *MemorySessions) AppendTurns(_ context.Context, id string, turns ...model.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errors.ErrKBSessionNotFound
	}
	s.Turns = append(s.Turns, turns...)
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemorySessions) ClearHistory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errors.ErrKBSessionNotFound
	}
	s.Turns = nil
	s.UpdatedAt = m.now()
	return nil
}

// MemoryAgents 内存 agent 目录。
type MemoryAgents struct {
	mu     sync.RWMutex
	agents map[string]model.Agent
}

// NewMemoryAgents 创建内存 agent 目录。
func NewMemoryAgents(agents ...model.Agent) *MemoryAgents {
	m := &MemoryAgents{agents: make(map[string]model.Agent, len(agents))}
	for _, a := range agents {
		m.agents[a.ID] = a
	}
	return m
}

func (m *MemoryAgents) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, errors.ErrKBAgentNotFound
	}
	return &a, nil
}

func (m *MemoryAgents) PutAgent(_ context.Context, a *model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = *a
	return nil
}

var (
	_ ItemStore      = (*MemoryItems)(nil)
	_ ChunkStore     = (*MemoryChunks)(nil)
	_ SessionStore   = (*MemorySessions)(nil)
	_ AgentDirectory = (*MemoryAgents)(nil)
)
