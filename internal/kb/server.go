// Package kbsvc provides the knowledge base server implementation.
package kbsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"

	"github.com/kart-io/sentinel-kb/internal/kb/biz"
	"github.com/kart-io/sentinel-kb/internal/kb/extract"
	"github.com/kart-io/sentinel-kb/internal/kb/handler"
	"github.com/kart-io/sentinel-kb/internal/kb/router"
	"github.com/kart-io/sentinel-kb/internal/kb/store"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/cache"
	"github.com/kart-io/sentinel-kb/pkg/component/milvus"
	"github.com/kart-io/sentinel-kb/pkg/component/mongodb"
	"github.com/kart-io/sentinel-kb/pkg/component/redis"
	"github.com/kart-io/sentinel-kb/pkg/component/storage"
	"github.com/kart-io/sentinel-kb/pkg/infra/app"
	"github.com/kart-io/sentinel-kb/pkg/infra/middleware"
	"github.com/kart-io/sentinel-kb/pkg/infra/pool"
	"github.com/kart-io/sentinel-kb/pkg/infra/server"
	"github.com/kart-io/sentinel-kb/pkg/llm"
	"github.com/kart-io/sentinel-kb/pkg/llm/openai"
	"github.com/kart-io/sentinel-kb/pkg/llm/resilience"
	"github.com/kart-io/sentinel-kb/pkg/objstore"
	httpopts "github.com/kart-io/sentinel-kb/pkg/options/http"
	kbopts "github.com/kart-io/sentinel-kb/pkg/options/kb"
	llmopts "github.com/kart-io/sentinel-kb/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-kb/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-kb/pkg/options/milvus"
	mongoopts "github.com/kart-io/sentinel-kb/pkg/options/mongodb"
	objstoreopts "github.com/kart-io/sentinel-kb/pkg/options/objstore"
	redisopts "github.com/kart-io/sentinel-kb/pkg/options/redis"
	"github.com/kart-io/sentinel-kb/pkg/utils/validator"

	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/sentinel-kb/pkg/llm/deepseek"
	_ "github.com/kart-io/sentinel-kb/pkg/llm/huggingface"
	_ "github.com/kart-io/sentinel-kb/pkg/llm/local"
	_ "github.com/kart-io/sentinel-kb/pkg/llm/ollama"
)

// Name is the name of the application.
const Name = "kb-server"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions          *httpopts.Options
	LogOptions           *logopts.Options
	MongoDBOptions       *mongoopts.Options
	MilvusOptions        *milvusopts.Options
	RedisOptions         *redisopts.Options
	EmbeddingOptions     *llmopts.EmbeddingOptions
	ChatOptions          *llmopts.ChatOptions
	TranscriptionOptions *llmopts.TranscriptionOptions
	StorageOptions       *kbopts.StorageOptions
	IngestOptions        *kbopts.IngestOptions
	SearchOptions        *kbopts.SearchOptions
	CacheOptions         *kbopts.CacheOptions
	AnswerOptions        *kbopts.AnswerOptions
	CrawlerOptions       *kbopts.CrawlerOptions
	MediaOptions         *kbopts.MediaOptions
	ObjStoreOptions      *objstoreopts.Options
}

// Server represents the knowledge base server.
type Server struct {
	srv *server.Manager
	log core.Logger
	// janitor stops the memory cache sweepers.
	janitor context.CancelFunc
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	printBanner(cfg)

	// 1. 初始化日志
	log, err := cfg.LogOptions.Init(app.GetVersion())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting knowledge base service...")

	storageMgr := storage.NewManager(nil)
	var shutdown []func(mgr *server.Manager)

	// 2. 初始化 MongoDB（条目、会话、Agent 与 GridFS）
	var (
		items    store.ItemStore
		sessions store.SessionStore
		agents   store.AgentDirectory
		mongoCli *mongodb.Client
	)
	needMongo := cfg.StorageOptions.Document == kbopts.BackendMongoDB ||
		cfg.ObjStoreOptions.Backend == objstoreopts.BackendGridFS
	if needMongo {
		mongoCli, err = mongodb.New(ctx, cfg.MongoDBOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mongodb: %w", err)
		}
		_ = storageMgr.Register("mongodb", mongoCli)
		shutdown = append(shutdown, func(mgr *server.Manager) {
			mgr.OnShutdown("mongodb", func(context.Context) error { return mongoCli.Close() })
		})
		logger.Infow("MongoDB client initialized", "database", cfg.MongoDBOptions.Database)
	}
	if cfg.StorageOptions.Document == kbopts.BackendMongoDB {
		if err := store.EnsureIndexes(ctx, mongoCli.Database()); err != nil {
			return nil, fmt.Errorf("failed to create mongodb indexes: %w", err)
		}
		items = store.NewMongoItems(mongoCli.Database())
		sessions = store.NewMongoSessions(mongoCli.Database())
		agents = store.NewMongoAgents(mongoCli.Database())
	} else {
		items, sessions, agents = store.NewMemoryItems(), store.NewMemorySessions(), store.NewMemoryAgents()
		logger.Warn("Using in-memory document store, data will not survive a restart")
	}
	logger.Infow("Document store initialized", "backend", cfg.StorageOptions.Document)

	// 3. 初始化 Milvus 向量存储
	var chunks store.ChunkStore
	if cfg.StorageOptions.Vector == kbopts.BackendMilvus {
		milvusCli, err := milvus.New(ctx, cfg.MilvusOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		_ = storageMgr.Register("milvus", milvusCli)
		shutdown = append(shutdown, func(mgr *server.Manager) {
			mgr.OnShutdown("milvus", func(context.Context) error { return milvusCli.Close() })
		})
		chunks = store.NewMilvusChunks(milvusCli)
	} else {
		chunks = store.NewMemoryChunks()
	}
	logger.Infow("Vector store initialized", "backend", cfg.StorageOptions.Vector)

	// 4. 初始化缓存与分布式锁（Redis 不可用时退回内存）
	var (
		embeddingCache cache.Store[[]float32]
		searchCache    cache.Store[[]model.SearchResult]
		locker         biz.Locker = biz.NewLocalLocker()
	)
	embeddingCacheCfg := cache.Config{TTL: cfg.CacheOptions.EmbeddingTTL, MaxEntries: cfg.CacheOptions.EmbeddingSize, KeyPrefix: cfg.CacheOptions.KeyPrefix + "emb:"}
	searchCacheCfg := cache.Config{TTL: cfg.CacheOptions.SearchTTL, MaxEntries: cfg.CacheOptions.SearchSize, KeyPrefix: cfg.CacheOptions.KeyPrefix + "search:"}
	if cfg.CacheOptions.Backend == kbopts.BackendRedis {
		redisCli, err := redis.New(ctx, cfg.RedisOptions)
		if err != nil {
			logger.Warnw("failed to connect to redis, cache will be disabled", "addr", cfg.RedisOptions.Addr(), "error", err.Error())
		} else {
			_ = storageMgr.Register("redis", redisCli)
			shutdown = append(shutdown, func(mgr *server.Manager) {
				mgr.OnShutdown("redis", func(context.Context) error { return redisCli.Close() })
			})
			embeddingCache = cache.NewRedis[[]float32](redisCli.Raw(), embeddingCacheCfg)
			searchCache = cache.NewRedis[[]model.SearchResult](redisCli.Raw(), searchCacheCfg)
			locker = biz.NewLocker(redisCli.Raw())
			logger.Infow("Redis cache initialized", "addr", cfg.RedisOptions.Addr(), "ttl", cfg.CacheOptions.SearchTTL)
		}
	}
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	if embeddingCache == nil {
		mem := cache.NewMemory[[]float32](embeddingCacheCfg)
		go mem.RunJanitor(janitorCtx, time.Minute)
		embeddingCache = mem
	}
	if searchCache == nil {
		mem := cache.NewMemory[[]model.SearchResult](searchCacheCfg)
		go mem.RunJanitor(janitorCtx, time.Minute)
		searchCache = mem
	}

	// 5. 初始化 LLM 供应商
	embedder, res, err := llm.ResolveEmbedding(cfg.EmbeddingOptions.Candidates())
	if err != nil {
		stopJanitor()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	logger.Infow("Embedding provider initialized",
		"provider", embedder.Name(),
		"model", embedder.Model(),
		"fallback", res.Fallback,
		"rejected", len(res.Rejected),
	)
	retry, breaker := resilience.DefaultRetryConfig(), resilience.DefaultCircuitBreakerConfig()
	cachedEmbedder := llm.NewCachedEmbeddingProvider(resilience.WrapEmbedding(embedder, retry, breaker), embeddingCache)

	chat, _, err := llm.ResolveChat(cfg.ChatOptions.Candidates())
	if err != nil {
		stopJanitor()
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	chat = resilience.WrapChat(chat, retry, breaker)
	logger.Infow("Chat provider initialized", "provider", chat.Name(), "model", cfg.ChatOptions.Model)

	// 6. 初始化对象存储
	var bucket objstore.Bucket = objstore.NewMemory()
	if cfg.ObjStoreOptions.Backend == objstoreopts.BackendGridFS {
		bucket, err = objstore.NewGridFS(mongoCli.Database(), cfg.ObjStoreOptions.Bucket)
		if err != nil {
			stopJanitor()
			return nil, fmt.Errorf("failed to initialize gridfs bucket: %w", err)
		}
	}
	keys := objstore.NewKeyGenerator(cfg.ObjStoreOptions.KeyPrefix)
	presigner, err := objstore.NewPresigner(cfg.ObjStoreOptions.SigningKey, cfg.ObjStoreOptions.PublicURL, cfg.ObjStoreOptions.PresignTTL)
	if err != nil {
		stopJanitor()
		return nil, fmt.Errorf("failed to initialize presigner: %w", err)
	}
	if cfg.ObjStoreOptions.SigningKey == "" {
		logger.Warn("No object signing key configured, presigned URLs will not survive a restart")
	}
	logger.Infow("Object store initialized", "backend", cfg.ObjStoreOptions.Backend, "bucket", cfg.ObjStoreOptions.Bucket)

	// 7. 初始化内容提取器
	extractors, err := cfg.newExtractors(bucket, keys)
	if err != nil {
		stopJanitor()
		return nil, err
	}

	// 8. 初始化任务池
	ingestPool, err := pool.New("ingest", pool.IngestPoolConfig(cfg.IngestOptions.Workers))
	if err != nil {
		stopJanitor()
		return nil, fmt.Errorf("failed to initialize ingest pool: %w", err)
	}
	logger.Infow("Ingest pool initialized", "workers", cfg.IngestOptions.Workers)

	// 9. 初始化 Biz 层
	searchCfg := biz.DefaultSearchConfig()
	searchCfg.Threshold = cfg.SearchOptions.Threshold
	searchCfg.VectorWeight = cfg.SearchOptions.VectorWeight
	searchCfg.TextWeight = cfg.SearchOptions.TextWeight
	searchCfg.Limit = cfg.SearchOptions.Limit
	searchCfg.MaxLimit = cfg.SearchOptions.MaxLimit
	searcher := biz.NewSearcher(items, chunks, cachedEmbedder, searchCache, searchCfg)

	ingestor := biz.NewIngestor(biz.IngestorDeps{
		Items:       items,
		Chunks:      chunks,
		Bucket:      bucket,
		Keys:        keys,
		Extractors:  extractors,
		Embedder:    cachedEmbedder,
		Pool:        ingestPool,
		Locker:      locker,
		Invalidator: searcher,
	}, biz.IngestConfig{
		ChunkSize:      cfg.IngestOptions.ChunkSize,
		ChunkOverlap:   cfg.IngestOptions.ChunkOverlap,
		EmbedBatchSize: cfg.IngestOptions.EmbedBatchSize,
		LockTTL:        cfg.IngestOptions.LockTTL,
		JobTimeout:     cfg.IngestOptions.JobTimeout,
	})

	answerCfg := biz.DefaultAnswerConfig()
	answerCfg.HistoryWindow = cfg.AnswerOptions.HistoryWindow
	answerCfg.Temperature = cfg.AnswerOptions.Temperature
	answerCfg.MaxTokens = cfg.AnswerOptions.MaxTokens
	answerCfg.Timeout = cfg.AnswerOptions.Timeout
	if cfg.AnswerOptions.SystemPrompt != "" {
		answerCfg.SystemPrompt = cfg.AnswerOptions.SystemPrompt
	}
	answerer := biz.NewAnswerer(searcher, chat, sessions, agents, answerCfg)
	logger.Infow("Knowledge base services initialized",
		"chunk_size", cfg.IngestOptions.ChunkSize,
		"chunk_overlap", cfg.IngestOptions.ChunkOverlap,
		"threshold", cfg.SearchOptions.Threshold,
	)

	// 10. 初始化 Handler 层
	v := validator.New()
	h := handler.New(handler.Deps{
		Ingestor:  ingestor,
		Searcher:  searcher,
		Answerer:  answerer,
		Bucket:    bucket,
		Keys:      keys,
		Presigner: presigner,
		Storage:   storageMgr,
		Caches: map[string]handler.CacheControl{
			"embedding": embeddingCache,
			"search":    searchCache,
		},
		Validator:     v,
		MaxUploadSize: cfg.HTTPOptions.MaxUploadSize,
	})
	logger.Info("Handler layer initialized")

	// 11. 初始化服务器
	serverManager := server.NewManager(cfg.HTTPOptions,
		server.WithValidator(v),
		server.WithMiddleware(
			middleware.Recovery(),
			middleware.RequestID(),
			middleware.Logger(middleware.LoggerOptions{
				SkipPaths:     []string{"/healthz", "/metrics"},
				SlowThreshold: 5 * time.Second,
			}),
		),
	)

	// 12. 注册路由
	if err := router.Register(serverManager, h); err != nil {
		stopJanitor()
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}

	// 13. 注册关闭钩子：先停任务池，再断开存储（按注册的逆序关闭）
	for _, register := range shutdown {
		register(serverManager)
	}
	serverManager.OnShutdown("ingest-pool", func(context.Context) error {
		return ingestPool.Release(cfg.HTTPOptions.ShutdownTimeout)
	})
	serverManager.OnShutdown("cache-janitor", func(context.Context) error {
		stopJanitor()
		return nil
	})

	logger.Info("Knowledge base service is ready")
	return &Server{srv: serverManager, log: log, janitor: stopJanitor}, nil
}

// newExtractors builds the registry for every supported content type.
func (cfg *Config) newExtractors(bucket objstore.Bucket, keys *objstore.KeyGenerator) (*extract.Registry, error) {
	registry := extract.NewDocumentRegistry()

	var transcriber extract.Transcriber
	if cfg.TranscriptionOptions.Enabled() {
		t, err := openai.NewTranscriber(openai.TranscriberConfig{
			BaseURL: cfg.TranscriptionOptions.BaseURL,
			APIKey:  cfg.TranscriptionOptions.APIKey,
			Model:   cfg.TranscriptionOptions.Model,
			Timeout: cfg.TranscriptionOptions.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize transcriber: %w", err)
		}
		transcriber = t
	} else {
		logger.Warn("Transcription is not configured, audio and video will fail to ingest")
	}
	media := extract.NewMediaExtractor(extract.MediaConfig{
		TesseractPath: cfg.MediaOptions.Tesseract,
		FFmpegPath:    cfg.MediaOptions.FFmpeg,
		YTDLPPath:     cfg.MediaOptions.YTDLP,
		OCRLanguage:   cfg.MediaOptions.OCRLanguage,
		WorkDir:       cfg.MediaOptions.WorkDir,
	}, nil, transcriber)
	media.Register(registry)

	crawlerCfg := extract.DefaultCrawlerConfig()
	crawlerCfg.MaxDepth = cfg.CrawlerOptions.Depth
	crawlerCfg.MaxPages = cfg.CrawlerOptions.MaxPages
	crawlerCfg.RequestsPerSecond = cfg.CrawlerOptions.Rate
	crawlerCfg.RespectRobots = cfg.CrawlerOptions.RespectRobots
	crawlerCfg.Timeout = cfg.CrawlerOptions.Timeout
	if cfg.CrawlerOptions.UserAgent != "" {
		crawlerCfg.UserAgent = cfg.CrawlerOptions.UserAgent
	}

	var firecrawl *extract.Firecrawl
	fc := cfg.CrawlerOptions.Firecrawl
	if fc != nil && fc.APIKey != "" {
		firecrawl = extract.NewFirecrawl(extract.FirecrawlConfig{
			BaseURL: fc.BaseURL,
			APIKey:  fc.APIKey,
			Timeout: fc.Timeout,
			MaxWait: fc.MaxWait,
		})
	}
	registry.Register(extract.KindWebsite, extract.NewWebsiteExtractor(firecrawl, extract.NewCrawler(crawlerCfg), cfg.CrawlerOptions.Strategy))
	registry.Register(extract.KindYouTube, extract.NewYouTubeExtractor(media, bucket, keys))

	logger.Infow("Content extractors initialized",
		"crawl_strategy", cfg.CrawlerOptions.Strategy,
		"firecrawl", firecrawl != nil,
		"transcription", transcriber != nil,
	)
	return registry, nil
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	defer s.janitor()
	return s.srv.Run(ctx)
}

// SetLogLevel changes the level of the running logger.
func (s *Server) SetLogLevel(level string) error {
	if err := logopts.ApplyLevel(s.log, level); err != nil {
		return err
	}
	logger.Infow("Log level changed", "level", level)
	return nil
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  HTTP: %s\n", cfg.HTTPOptions.Addr)
	fmt.Printf("  Storage: %s / %s\n", cfg.StorageOptions.Document, cfg.StorageOptions.Vector)
	fmt.Printf("  Embedding: %s (%s)\n", cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.Model)
	fmt.Printf("  Chat: %s (%s)\n", cfg.ChatOptions.Provider, cfg.ChatOptions.Model)
	fmt.Printf("  Cache: %s\n", cfg.CacheOptions.Backend)
}
