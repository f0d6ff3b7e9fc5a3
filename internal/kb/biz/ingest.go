package biz

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/internal/kb/extract"
	"github.com/kart-io/sentinel-kb/internal/kb/metrics"
	"github.com/kart-io/sentinel-kb/internal/kb/store"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/internal/pkg/chunker"
	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/id"
	"github.com/kart-io/sentinel-kb/pkg/infra/pool"
	"github.com/kart-io/sentinel-kb/pkg/llm"
	"github.com/kart-io/sentinel-kb/pkg/objstore"
)

// IngestConfig 索引配置。
type IngestConfig struct {
	// ChunkSize 默认块大小（字符数）。
	ChunkSize int
	// ChunkOverlap 默认块重叠（字符数）。
	ChunkOverlap int
	// EmbedBatchSize 单次向量化请求的文本数。
	EmbedBatchSize int
	// LockTTL 条目锁有效期。
	LockTTL time.Duration
	// JobTimeout 单个索引任务的最长执行时间。
	JobTimeout time.Duration
}

// DefaultIngestConfig 返回默认索引配置。
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ChunkSize:      chunker.DefaultChunkSize,
		ChunkOverlap:   chunker.DefaultChunkOverlap,
		EmbedBatchSize: 64,
		LockTTL:        DefaultLockTTL,
		JobTimeout:     20 * time.Minute,
	}
}

// Invalidator 在条目内容变化后清理租户的检索缓存。
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string)
}

// IngestorDeps Ingestor 依赖。
type IngestorDeps struct {
	Items       store.ItemStore
	Chunks      store.ChunkStore
	Bucket      objstore.Bucket
	Keys        *objstore.KeyGenerator
	Extractors  *extract.Registry
	Embedder    llm.EmbeddingProvider
	Pool        *pool.Pool
	Locker      Locker
	Invalidator Invalidator
}

// Ingestor 管理条目生命周期并执行索引任务。
type Ingestor struct {
	items      store.ItemStore
	chunks     store.ChunkStore
	bucket     objstore.Bucket
	keys       *objstore.KeyGenerator
	extractors *extract.Registry
	embedder   llm.EmbeddingProvider
	pool       *pool.Pool
	locker     Locker
	invalid    Invalidator
	cfg        IngestConfig
	metrics    *metrics.KBMetrics
	now        func() time.Time
}

// NewIngestor 创建 Ingestor。
func NewIngestor(deps IngestorDeps, cfg IngestConfig) *Ingestor {
	def := DefaultIngestConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = min(def.ChunkOverlap, cfg.ChunkSize/5)
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = def.EmbedBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	keys := deps.Keys
	if keys == nil {
		keys = objstore.NewKeyGenerator("knowledge-base")
	}
	return &Ingestor{
		items:      deps.Items,
		chunks:     deps.Chunks,
		bucket:     deps.Bucket,
		keys:       keys,
		extractors: deps.Extractors,
		embedder:   deps.Embedder,
		pool:       deps.Pool,
		locker:     locker,
		invalid:    deps.Invalidator,
		cfg:        cfg,
		metrics:    metrics.Get(),
		now:        time.Now,
	}
}

// Trigger 开始（或重新开始）条目的索引，立即返回 processing 状态的条目。
// 同一条目已有任务在运行时返回 ErrKBIngestionInProgress。
func (s *Ingestor) Trigger(ctx context.Context, itemID string, opts IngestOptions) (*model.ContentItem, error) {
	if err := validOptions(opts); err != nil {
		return nil, err
	}
	if size, overlap := s.chunkParams(opts); overlap >= size {
		return nil, errors.ErrKBInvalidRequest.WithMessagef("chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	item, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !hasSource(item) {
		return nil, errors.ErrKBInvalidRequest.WithMessagef("item %s has no content to ingest", itemID)
	}

	unlock, err := s.locker.TryLock(ctx, itemID, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}

	jobID := id.NewUUID()
	item, err = s.items.BeginIngestion(ctx, itemID, jobID)
	if err != nil {
		unlock()
		return nil, err
	}

	err = s.pool.Submit(func() {
		defer unlock()
		s.runJob(item, jobID, opts)
	})
	if err != nil {
		unlock()
		s.fail(item, jobID, "", fmt.Errorf("queue ingestion job: %w", err), model.IngestionStats{})
		return nil, errors.ErrServiceUnavailable.WithCause(err).WithMessage("ingestion queue is unavailable")
	}

	logger.Infow("Ingestion queued", "item_id", itemID, "job_id", jobID, "content_type", item.ContentType)
	return item, nil
}

// runJob 在 worker 中执行索引任务。panic 时先把条目标记为失败，再交给 pool 的 panic handler。
func (s *Ingestor) runJob(item *model.ContentItem, jobID string, opts IngestOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	done := s.metrics.IngestionStarted()
	generation := id.NewULID()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("ingestion panic: %v", r)
			done(0, err)
			s.fail(item, jobID, generation, err, model.IngestionStats{})
			panic(r)
		}
	}()

	stats, err := s.index(ctx, item, jobID, generation, opts)
	done(stats.ChunksCreated, err)
	if err != nil {
		s.fail(item, jobID, generation, err, stats)
		return
	}
	logger.Infow("Ingestion completed",
		"item_id", item.ID,
		"job_id", jobID,
		"generation", generation,
		"chunks", stats.ChunksCreated,
		"characters", stats.TotalCharacters,
		"seconds", stats.ProcessingSeconds,
	)
}

// index 提取 → 分块 → 向量化 → 写入新版本 → 切换版本。
// 返回的 stats 在失败时仍包含来源统计，便于记录到条目上。
func (s *Ingestor) index(ctx context.Context, item *model.ContentItem, jobID, generation string, opts IngestOptions) (model.IngestionStats, error) {
	start := s.now()
	var stats model.IngestionStats

	in, err := s.loadInput(ctx, item)
	if err != nil {
		return stats, err
	}
	kind := extract.Resolve(item.ContentType, in)
	res, err := s.extractors.Extract(ctx, kind, in)
	if err != nil {
		return stats, err
	}
	stats.SourcesAttempted = res.SourcesAttempted
	stats.SourcesFailed = res.SourcesFailed

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return stats, errors.ErrKBEmptyContent.WithMessagef("no text could be extracted from %s", describeSource(item))
	}

	size, overlap := s.chunkParams(opts)
	c, err := chunker.New(size, overlap)
	if err != nil {
		return stats, errors.ErrKBInvalidRequest.WithCause(err).WithMessage(err.Error())
	}
	pieces := c.Split(text)
	if len(pieces) == 0 {
		return stats, errors.ErrKBEmptyContent.WithMessagef("no chunks produced from %s", describeSource(item))
	}

	vectors, err := s.embed(ctx, pieces)
	if err != nil {
		return stats, err
	}
	dim := len(vectors[0])

	title := item.Title
	if title == "" {
		title = res.Title
	}
	extracted := copyMetadata(res.Metadata)
	if len(res.Failures) > 0 {
		extracted["failed_sources"] = res.Failures
	}
	meta := copyMetadata(item.Metadata)
	for k, v := range extracted {
		meta[k] = v
	}

	now := s.now()
	records := make([]model.ChunkRecord, len(pieces))
	for i, p := range pieces {
		records[i] = model.ChunkRecord{
			ID:          model.ChunkID(item.ID, generation, p.Index),
			ItemID:      item.ID,
			Generation:  generation,
			Index:       p.Index,
			Text:        p.Text,
			Embedding:   vectors[i],
			Start:       p.Start,
			End:         p.End,
			TokenCount:  p.TokenCount,
			Provider:    s.embedder.Name(),
			Model:       s.embedder.Model(),
			Dimension:   dim,
			Title:       title,
			ContentType: item.ContentType,
			TenantID:    item.TenantID,
			AgentIDs:    item.AgentIDs,
			BrandIDs:    item.BrandIDs,
			Metadata:    meta,
			CreatedAt:   now,
		}
	}
	if err := s.chunks.Insert(ctx, records); err != nil {
		return stats, storageErr(err, "insert chunks")
	}

	runes := utf8.RuneCountInString(text)
	stats.ChunksCreated = len(records)
	stats.TotalCharacters = runes
	stats.EstimatedTokens = chunker.EstimateTokens(runes)
	stats.WordCount = textutil.WordCount(text)
	stats.Provider = s.embedder.Name()
	stats.Model = s.embedder.Model()
	stats.Dimension = dim
	stats.ChunkSize = size
	stats.ChunkOverlap = overlap
	stats.ProcessedAt = &now
	stats.ProcessingSeconds = now.Sub(start).Seconds()

	completion := store.Completion{
		Generation: generation,
		Text:       text,
		Stats:      stats,
		Provider:   stats.Provider,
		Model:      stats.Model,
		Dimension:  dim,
		Metadata:   extracted,
	}
	if item.Title == "" {
		completion.Title = res.Title
	}
	if err := s.items.CompleteIngestion(ctx, item.ID, jobID, completion); err != nil {
		return stats, err
	}

	if n, err := s.chunks.DeleteGenerationsExcept(ctx, item.ID, generation); err != nil {
		logger.Warnw("Failed to remove superseded chunks", "item_id", item.ID, "generation", generation, "error", err.Error())
	} else if n > 0 {
		logger.Debugw("Superseded chunks removed", "item_id", item.ID, "removed", n)
	}
	s.invalidate(ctx, item.TenantID)
	return stats, nil
}

// fail 清理本次任务写入的分块并把条目标记为 failed，之前的有效版本保持不变。
func (s *Ingestor) fail(item *model.ContentItem, jobID, generation string, cause error, stats model.IngestionStats) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if generation != "" {
		if _, err := s.chunks.DeleteGeneration(ctx, item.ID, generation); err != nil {
			logger.Warnw("Failed to remove chunks of failed job", "item_id", item.ID, "generation", generation, "error", err.Error())
		}
	}

	logger.Errorw("Ingestion failed", "item_id", item.ID, "job_id", jobID, "error", cause.Error())
	if err := s.items.FailIngestion(ctx, item.ID, jobID, failureMessage(cause), stats); err != nil {
		logger.Warnw("Failed to record ingestion failure", "item_id", item.ID, "job_id", jobID, "error", err.Error())
	}
}

func (s *Ingestor) loadInput(ctx context.Context, item *model.ContentItem) (*extract.Input, error) {
	in := &extract.Input{
		ItemID:   item.ID,
		TenantID: item.TenantID,
		Filename: item.Source.Filename,
		MIMEType: item.Source.MIMEType,
		URLs:     item.Source.URLs,
		Crawl: extract.CrawlOptions{
			Strategy: item.Source.CrawlStrategy,
			MaxDepth: item.Source.MaxDepth,
			MaxPages: item.Source.MaxPages,
		},
	}
	if item.Source.ObjectKey == "" {
		return in, nil
	}

	data, info, err := objstore.ReadAll(ctx, s.bucket, item.Source.ObjectKey)
	if err != nil {
		return nil, storageErr(err, "read source object")
	}
	in.Data = data
	if in.MIMEType == "" {
		in.MIMEType = info.ContentType
	}
	return in, nil
}

// embed 分批向量化，并校验所有向量维度一致。
func (s *Ingestor) embed(ctx context.Context, pieces []chunker.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(pieces))
	for startIdx := 0; startIdx < len(pieces); startIdx += s.cfg.EmbedBatchSize {
		end := min(startIdx+s.cfg.EmbedBatchSize, len(pieces))
		texts := make([]string, 0, end-startIdx)
		for _, p := range pieces[startIdx:end] {
			texts = append(texts, p.Text)
		}
		batch, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			if errors.GetCode(err) != -1 {
				return nil, err
			}
			return nil, errors.ErrKBEmbeddingFailed.WithCause(err).WithMessagef("embed chunks with %s: %v", s.embedder.Name(), err)
		}
		if len(batch) != len(texts) {
			return nil, errors.ErrKBEmbeddingFailed.WithMessagef("provider returned %d vectors for %d chunks", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, errors.ErrKBEmbeddingFailed.WithMessagef("inconsistent embedding dimension at chunk %d", i)
		}
	}
	return vectors, nil
}

func (s *Ingestor) chunkParams(opts IngestOptions) (int, int) {
	size, overlap := s.cfg.ChunkSize, s.cfg.ChunkOverlap
	if opts.ChunkSize > 0 {
		size = opts.ChunkSize
		if overlap >= size {
			overlap = size / 5
		}
	}
	if opts.ChunkOverlap > 0 {
		overlap = opts.ChunkOverlap
	}
	return size, overlap
}

func (s *Ingestor) invalidate(ctx context.Context, tenantID string) {
	if s.invalid != nil {
		s.invalid.InvalidateTenant(ctx, tenantID)
	}
}

func describeSource(item *model.ContentItem) string {
	switch {
	case len(item.Source.URLs) > 0:
		return strings.Join(item.Source.URLs, ", ")
	case item.Source.Filename != "":
		return item.Source.Filename
	}
	return "item " + item.ID
}

// failureMessage 优先使用 Errno 的对外消息，并附带底层原因。
func failureMessage(err error) string {
	if errors.GetCode(err) == -1 {
		return err.Error()
	}
	errno := errors.FromError(err)
	msg := errno.MessageEN
	if cause := errno.Cause(); cause != nil && !strings.Contains(msg, cause.Error()) {
		msg += ": " + cause.Error()
	}
	return msg
}
