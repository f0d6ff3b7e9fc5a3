// Package options contains flags and options for initializing the knowledge base server.
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	kbsvc "github.com/kart-io/sentinel-kb/internal/kb"
	"github.com/kart-io/sentinel-kb/pkg/infra/app"
	httpopts "github.com/kart-io/sentinel-kb/pkg/options/http"
	kbopts "github.com/kart-io/sentinel-kb/pkg/options/kb"
	llmopts "github.com/kart-io/sentinel-kb/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-kb/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-kb/pkg/options/milvus"
	mongoopts "github.com/kart-io/sentinel-kb/pkg/options/mongodb"
	objstoreopts "github.com/kart-io/sentinel-kb/pkg/options/objstore"
	redisopts "github.com/kart-io/sentinel-kb/pkg/options/redis"
)

var _ app.CliOptions = (*ServerOptions)(nil)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// MongoDBOptions contains the document store connection.
	MongoDBOptions *mongoopts.Options `json:"mongodb" mapstructure:"mongodb"`

	// MilvusOptions contains the vector store connection.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// RedisOptions contains the shared cache and lock connection.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	EmbeddingOptions     *llmopts.EmbeddingOptions     `json:"embedding" mapstructure:"embedding"`
	ChatOptions          *llmopts.ChatOptions          `json:"chat" mapstructure:"chat"`
	TranscriptionOptions *llmopts.TranscriptionOptions `json:"transcription" mapstructure:"transcription"`

	StorageOptions *kbopts.StorageOptions `json:"storage" mapstructure:"storage"`
	IngestOptions  *kbopts.IngestOptions  `json:"ingest" mapstructure:"ingest"`
	SearchOptions  *kbopts.SearchOptions  `json:"search" mapstructure:"search"`
	CacheOptions   *kbopts.CacheOptions   `json:"cache" mapstructure:"cache"`
	AnswerOptions  *kbopts.AnswerOptions  `json:"answer" mapstructure:"answer"`
	CrawlerOptions *kbopts.CrawlerOptions `json:"crawler" mapstructure:"crawler"`
	MediaOptions   *kbopts.MediaOptions   `json:"media" mapstructure:"media"`

	// ObjStoreOptions contains raw file storage and presigned URL settings.
	ObjStoreOptions *objstoreopts.Options `json:"objstore" mapstructure:"objstore"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	httpOpts := httpopts.NewOptions()
	httpOpts.Addr = ":8080"

	return &ServerOptions{
		HTTPOptions:          httpOpts,
		LogOptions:           logopts.NewOptions(),
		MongoDBOptions:       mongoopts.NewOptions(),
		MilvusOptions:        milvusopts.NewOptions(),
		RedisOptions:         redisopts.NewOptions(),
		EmbeddingOptions:     llmopts.NewEmbeddingOptions(),
		ChatOptions:          llmopts.NewChatOptions(),
		TranscriptionOptions: llmopts.NewTranscriptionOptions(),
		StorageOptions:       kbopts.NewStorageOptions(),
		IngestOptions:        kbopts.NewIngestOptions(),
		SearchOptions:        kbopts.NewSearchOptions(),
		CacheOptions:         kbopts.NewCacheOptions(),
		AnswerOptions:        kbopts.NewAnswerOptions(),
		CrawlerOptions:       kbopts.NewCrawlerOptions(),
		MediaOptions:         kbopts.NewMediaOptions(),
		ObjStoreOptions:      objstoreopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
// Every option group prefixes its own flags, e.g. --search.threshold.
func (o *ServerOptions) Flags() (fss app.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.MongoDBOptions.AddFlags(fss.FlagSet("mongodb"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.ChatOptions.AddFlags(fss.FlagSet("chat"))
	o.TranscriptionOptions.AddFlags(fss.FlagSet("transcription"))
	o.StorageOptions.AddFlags(fss.FlagSet("storage"))
	o.IngestOptions.AddFlags(fss.FlagSet("ingest"))
	o.SearchOptions.AddFlags(fss.FlagSet("search"))
	o.CacheOptions.AddFlags(fss.FlagSet("cache"))
	o.AnswerOptions.AddFlags(fss.FlagSet("answer"))
	o.CrawlerOptions.AddFlags(fss.FlagSet("crawler"))
	o.MediaOptions.AddFlags(fss.FlagSet("media"))
	o.ObjStoreOptions.AddFlags(fss.FlagSet("objstore"))

	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.CrawlerOptions.Complete(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.StorageOptions.Validate()...)
	if o.StorageOptions.Document == kbopts.BackendMongoDB || o.ObjStoreOptions.Backend == objstoreopts.BackendGridFS {
		errs = append(errs, o.MongoDBOptions.Validate()...)
	}
	if o.StorageOptions.Vector == kbopts.BackendMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}
	if o.CacheOptions.Backend == kbopts.BackendRedis {
		errs = append(errs, o.RedisOptions.Validate()...)
	}
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.TranscriptionOptions.Validate()...)
	errs = append(errs, o.IngestOptions.Validate()...)
	errs = append(errs, o.SearchOptions.Validate()...)
	errs = append(errs, o.CacheOptions.Validate()...)
	errs = append(errs, o.AnswerOptions.Validate()...)
	errs = append(errs, o.CrawlerOptions.Validate()...)
	errs = append(errs, o.MediaOptions.Validate()...)
	errs = append(errs, o.ObjStoreOptions.Validate()...)

	return utilerrors.NewAggregate(errs)
}

// Config builds a kbsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*kbsvc.Config, error) {
	return &kbsvc.Config{
		HTTPOptions:          o.HTTPOptions,
		LogOptions:           o.LogOptions,
		MongoDBOptions:       o.MongoDBOptions,
		MilvusOptions:        o.MilvusOptions,
		RedisOptions:         o.RedisOptions,
		EmbeddingOptions:     o.EmbeddingOptions,
		ChatOptions:          o.ChatOptions,
		TranscriptionOptions: o.TranscriptionOptions,
		StorageOptions:       o.StorageOptions,
		IngestOptions:        o.IngestOptions,
		SearchOptions:        o.SearchOptions,
		CacheOptions:         o.CacheOptions,
		AnswerOptions:        o.AnswerOptions,
		CrawlerOptions:       o.CrawlerOptions,
		MediaOptions:         o.MediaOptions,
		ObjStoreOptions:      o.ObjStoreOptions,
	}, nil
}
