package biz

import (
	"context"
	stderrors "errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/sentinel-kb/internal/kb/metrics"
	"github.com/kart-io/sentinel-kb/internal/kb/store"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
	"github.com/kart-io/sentinel-kb/pkg/cache"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/llm"
)

// SearchConfig 检索配置。
type SearchConfig struct {
	// Threshold 向量相似度下限，低于该值的结果被丢弃。
	Threshold float64
	// VectorWeight 与 TextWeight 为混合检索的加权系数。
	VectorWeight float64
	TextWeight   float64
	// Limit 默认返回条数，MaxLimit 为请求可指定的上限。
	Limit    int
	MaxLimit int
	// CandidateFactor 向量检索的候选放大倍数，用于抵消后置过滤。
	CandidateFactor int
	// SnippetLength 词法检索结果的正文截取长度（字符数）。
	SnippetLength int
}

// DefaultSearchConfig 返回默认检索配置。
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Threshold:       0.3,
		VectorWeight:    0.7,
		TextWeight:      0.3,
		Limit:           5,
		MaxLimit:        50,
		CandidateFactor: 10,
		SnippetLength:   1000,
	}
}

// SearchQuery 检索请求。
type SearchQuery struct {
	Query        string
	TenantID     string
	AgentIDs     []string
	BrandIDs     []string
	ContentTypes []model.ContentType
	Mode         model.SearchMode
	Limit        int
	// Threshold 为 nil 时使用配置的默认阈值。
	Threshold *float64
}

// ItemCompatibility 条目向量与当前 Embedding 配置的兼容性。
type ItemCompatibility struct {
	ItemID string `json:"item_id"`
	llm.Compatibility
	ItemProvider    string `json:"item_provider,omitempty"`
	ItemModel       string `json:"item_model,omitempty"`
	CurrentProvider string `json:"current_provider"`
	CurrentModel    string `json:"current_model"`
}

// Searcher 向量、词法与混合检索。结果按租户缓存，条目变化时整租户失效。
type Searcher struct {
	items    store.ItemStore
	chunks   store.ChunkStore
	embedder llm.EmbeddingProvider
	cache    cache.Store[[]model.SearchResult]
	cfg      SearchConfig
	metrics  *metrics.KBMetrics
}

// NewSearcher 创建 Searcher。resultCache 可以为 nil。
func NewSearcher(items store.ItemStore, chunks store.ChunkStore, embedder llm.EmbeddingProvider,
	resultCache cache.Store[[]model.SearchResult], cfg SearchConfig,
) *Searcher {
	def := DefaultSearchConfig()
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.VectorWeight <= 0 && cfg.TextWeight <= 0 {
		cfg.VectorWeight, cfg.TextWeight = def.VectorWeight, def.TextWeight
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.MaxLimit < cfg.Limit {
		cfg.MaxLimit = max(def.MaxLimit, cfg.Limit)
	}
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = def.CandidateFactor
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = def.SnippetLength
	}
	return &Searcher{
		items:    items,
		chunks:   chunks,
		embedder: embedder,
		cache:    resultCache,
		cfg:      cfg,
		metrics:  metrics.Get(),
	}
}

// Config 返回生效的检索配置。
func (s *Searcher) Config() SearchConfig { return s.cfg }

// Search 按模式检索，结果按分数降序，每个条目至多一条。没有结果时返回空切片。
func (s *Searcher) Search(ctx context.Context, q SearchQuery) ([]model.SearchResult, error) {
	if err := s.normalize(&q); err != nil {
		return nil, err
	}
	start := time.Now()
	key := s.cacheKey(q)

	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, key); err != nil {
			logger.Warnw("Search cache read failed", "error", err.Error())
		} else if ok {
			s.metrics.RecordSearch(string(q.Mode), true, time.Since(start), len(cached), nil)
			return cached, nil
		}
	}

	var (
		results []model.SearchResult
		err     error
	)
	switch q.Mode {
	case model.SearchVector:
		results, err = s.VectorSearch(ctx, q)
	case model.SearchText:
		results, err = s.TextSearch(ctx, q)
	default:
		results, err = s.HybridSearch(ctx, q)
	}
	if err != nil {
		err = queryErr(ctx, err)
		s.metrics.RecordSearch(string(q.Mode), false, time.Since(start), 0, err)
		return nil, err
	}
	if results == nil {
		results = []model.SearchResult{}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, results); err != nil {
			logger.Warnw("Search cache write failed", "error", err.Error())
		}
	}
	s.metrics.RecordSearch(string(q.Mode), false, time.Since(start), len(results), nil)
	logger.Debugw("Search completed", "tenant_id", q.TenantID, "mode", q.Mode, "results", len(results), "elapsed", time.Since(start).String())
	return results, nil
}

// VectorSearch 向量近邻检索。
//
// 向量库只按租户与类型预过滤，ACL、当前版本、父条目存在性与维度在取回候选后过滤；
// 每个条目只保留分数最高的块。
func (s *Searcher) VectorSearch(ctx context.Context, q SearchQuery) ([]model.SearchResult, error) {
	if err := s.normalize(&q); err != nil {
		return nil, err
	}
	vec, err := s.embedder.EmbedSingle(ctx, q.Query)
	if err != nil {
		return nil, errors.ErrKBEmbeddingFailed.WithCause(err).WithMessagef("embed query with %s: %v", s.embedder.Name(), err)
	}

	hits, err := s.chunks.Search(ctx, store.VectorQuery{
		Vector:       vec,
		TenantID:     q.TenantID,
		ContentTypes: q.ContentTypes,
		TopK:         q.Limit * s.cfg.CandidateFactor,
	})
	if err != nil {
		return nil, storageErr(err, "vector search")
	}
	if len(hits) == 0 {
		return []model.SearchResult{}, nil
	}

	ids := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.Chunk.ItemID]; !ok {
			seen[h.Chunk.ItemID] = struct{}{}
			ids = append(ids, h.Chunk.ItemID)
		}
	}
	parents, err := s.items.GetMany(ctx, ids)
	if err != nil {
		return nil, storageErr(err, "load parent items")
	}

	threshold := *q.Threshold
	results := make([]model.SearchResult, 0, q.Limit)
	picked := make(map[string]struct{})
	var mismatched []string
	for _, h := range hits {
		c := h.Chunk
		if _, done := picked[c.ItemID]; done {
			continue
		}
		item, ok := parents[c.ItemID]
		if !ok || item.ActiveGeneration == "" || item.ActiveGeneration != c.Generation {
			continue
		}
		if item.Dimension != len(vec) || (len(c.Embedding) > 0 && len(c.Embedding) != len(vec)) {
			if !textutil.ContainsString(mismatched, item.ID) {
				mismatched = append(mismatched, item.ID)
			}
			continue
		}
		if !item.CanRead(q.AgentIDs, q.BrandIDs) {
			continue
		}
		if h.Score < threshold {
			continue
		}
		picked[c.ItemID] = struct{}{}
		results = append(results, chunkResult(item, c, h.Score))
	}
	if len(mismatched) > 0 {
		logger.Warnw("Skipped items with incompatible embeddings, re-indexing required",
			"tenant_id", q.TenantID, "items", mismatched, "query_dimension", len(vec))
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// TextSearch 词法检索，分数按结果中的最高分归一化到 [0, 1]。
func (s *Searcher) TextSearch(ctx context.Context, q SearchQuery) ([]model.SearchResult, error) {
	if err := s.normalize(&q); err != nil {
		return nil, err
	}
	hits, err := s.items.TextSearch(ctx, store.TextQuery{
		Query:        q.Query,
		TenantID:     q.TenantID,
		AgentIDs:     q.AgentIDs,
		BrandIDs:     q.BrandIDs,
		ContentTypes: q.ContentTypes,
		Limit:        q.Limit,
	})
	if err != nil {
		return nil, storageErr(err, "text search")
	}

	var top float64
	for _, h := range hits {
		top = max(top, h.Score)
	}
	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		if top <= 0 {
			break
		}
		score := h.Score / top
		results = append(results, model.SearchResult{
			ItemID:      h.Item.ID,
			Title:       h.Item.Title,
			ContentType: h.Item.ContentType,
			Text:        textutil.TruncateString(h.Item.Text, s.cfg.SnippetLength),
			Score:       score,
			TextScore:   score,
			Metadata:    h.Item.Metadata,
		})
	}
	return results, nil
}

// HybridSearch 并发执行向量与词法检索，按 vector_weight*v + text_weight*t 合并。
//
// 同一条目两边都命中时保留较长的文本；合并分数相同时保持向量检索的顺序。
// 一侧失败时记录日志并只使用另一侧的结果，两侧都失败才返回错误。
func (s *Searcher) HybridSearch(ctx context.Context, q SearchQuery) ([]model.SearchResult, error) {
	if err := s.normalize(&q); err != nil {
		return nil, err
	}
	sub := q
	sub.Limit = q.Limit * 2

	var (
		vectorResults, textResults []model.SearchResult
		vectorErr, textErr         error
		g                          errgroup.Group
	)
	g.Go(func() error {
		vectorResults, vectorErr = s.VectorSearch(ctx, sub)
		return nil
	})
	g.Go(func() error {
		textResults, textErr = s.TextSearch(ctx, sub)
		return nil
	})
	_ = g.Wait()

	switch {
	case vectorErr != nil && textErr != nil:
		return nil, vectorErr
	case vectorErr != nil:
		logger.Warnw("Vector search failed, using text results only", "tenant_id", q.TenantID, "error", vectorErr.Error())
	case textErr != nil:
		logger.Warnw("Text search failed, using vector results only", "tenant_id", q.TenantID, "error", textErr.Error())
	}

	return MergeHybrid(vectorResults, textResults, s.cfg.VectorWeight, s.cfg.TextWeight, q.Limit), nil
}

// MergeHybrid 合并向量与词法结果。
func MergeHybrid(vectorResults, textResults []model.SearchResult, vectorWeight, textWeight float64, limit int) []model.SearchResult {
	merged := make(map[string]*model.SearchResult, len(vectorResults)+len(textResults))
	order := make([]string, 0, len(vectorResults)+len(textResults))

	for _, r := range vectorResults {
		if _, dup := merged[r.ItemID]; dup {
			continue
		}
		r.VectorScore = r.Score
		r.TextScore = 0
		r.Score = vectorWeight * r.VectorScore
		merged[r.ItemID] = &r
		order = append(order, r.ItemID)
	}
	for _, r := range textResults {
		cur, ok := merged[r.ItemID]
		if !ok {
			r.TextScore = r.Score
			r.VectorScore = 0
			r.Score = textWeight * r.TextScore
			merged[r.ItemID] = &r
			order = append(order, r.ItemID)
			continue
		}
		if cur.TextScore > 0 {
			continue
		}
		cur.TextScore = r.Score
		cur.Score += textWeight * r.Score
		if len(r.Text) > len(cur.Text) {
			cur.Text = r.Text
			cur.ChunkIndex = r.ChunkIndex
		}
	}

	results := make([]model.SearchResult, 0, len(order))
	for _, id := range order {
		results = append(results, *merged[id])
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// CheckCompatibility 比较条目的向量维度与当前 Embedding 供应商的维度。
func (s *Searcher) CheckCompatibility(ctx context.Context, itemID string) (*ItemCompatibility, error) {
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	expected, err := llm.Dimension(ctx, s.embedder)
	if err != nil {
		return nil, errors.ErrKBProviderUnavailable.WithCause(err).WithMessagef("determine embedding dimension: %v", err)
	}
	return &ItemCompatibility{
		ItemID:          item.ID,
		Compatibility:   llm.CheckCompatibility(item.Dimension, expected),
		ItemProvider:    item.EmbeddingProvider,
		ItemModel:       item.EmbeddingModel,
		CurrentProvider: s.embedder.Name(),
		CurrentModel:    s.embedder.Model(),
	}, nil
}

// InvalidateTenant 实现 Invalidator。
func (s *Searcher) InvalidateTenant(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	n, err := s.cache.DeletePrefix(ctx, tenantPrefix(tenantID))
	if err != nil {
		logger.Warnw("Failed to invalidate search cache", "tenant_id", tenantID, "error", err.Error())
		return
	}
	if n > 0 {
		logger.Debugw("Search cache invalidated", "tenant_id", tenantID, "entries", n)
	}
}

func (s *Searcher) normalize(q *SearchQuery) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return errors.ErrKBInvalidRequest.WithMessage("query must not be empty")
	}
	if q.TenantID == "" {
		return errors.ErrKBTenantRequired
	}
	if q.Mode == "" {
		q.Mode = model.SearchHybrid
	}
	if !q.Mode.Valid() {
		return errors.ErrKBInvalidRequest.WithMessagef("unknown search type %q", q.Mode)
	}
	if q.Limit <= 0 {
		q.Limit = s.cfg.Limit
	}
	q.Limit = min(q.Limit, s.cfg.MaxLimit*2)
	if q.Threshold == nil {
		t := s.cfg.Threshold
		q.Threshold = &t
	}
	return nil
}

// cacheKey 以租户为前缀，便于整租户失效。
func (s *Searcher) cacheKey(q SearchQuery) string {
	types := make([]string, len(q.ContentTypes))
	for i, t := range q.ContentTypes {
		types[i] = string(t)
	}
	return tenantPrefix(q.TenantID) + cache.HashKey(
		textutil.NormalizeQuery(q.Query),
		sortedJoin(q.AgentIDs),
		sortedJoin(q.BrandIDs),
		sortedJoin(types),
		strconv.Itoa(q.Limit),
		strconv.FormatFloat(*q.Threshold, 'f', -1, 64),
		string(q.Mode),
	)
}

// tenantPrefix 转义租户 ID，使其中不会出现分隔符 ':'，
// 避免租户 "a" 的失效波及 "a:b"。
func tenantPrefix(tenantID string) string {
	return "search:" + url.QueryEscape(tenantID) + ":"
}

func sortedJoin(values []string) string {
	cp := append([]string(nil), values...)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}

func chunkResult(item *model.ContentItem, c model.ChunkRecord, score float64) model.SearchResult {
	meta := c.Metadata
	if meta == nil {
		meta = item.Metadata
	}
	return model.SearchResult{
		ItemID:      item.ID,
		Title:       item.Title,
		ContentType: item.ContentType,
		Text:        c.Text,
		Score:       score,
		VectorScore: score,
		ChunkIndex:  c.Index,
		Metadata:    meta,
	}
}

// queryErr 把超时统一映射为 ErrKBQueryTimeout。
func queryErr(ctx context.Context, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.ErrKBQueryTimeout.WithCause(err)
	}
	return err
}
