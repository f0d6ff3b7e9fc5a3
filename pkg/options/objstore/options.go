// Package objstore provides object storage options.
package objstore

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-kb/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Backend names.
const (
	BackendMemory = "memory"
	BackendGridFS = "gridfs"
)

// Options configures the object store and its presigned URLs.
type Options struct {
	// Backend is memory or gridfs.
	Backend string `json:"backend" mapstructure:"backend"`
	// Bucket is the GridFS bucket name.
	Bucket string `json:"bucket" mapstructure:"bucket"`
	// SigningKey signs presigned URLs (HS256); at least 32 bytes.
	SigningKey string `json:"-" mapstructure:"signing-key"`
	// PresignTTL is the default lifetime of a presigned URL.
	PresignTTL time.Duration `json:"presign-ttl" mapstructure:"presign-ttl"`
	// PublicURL is the externally reachable base URL of this service.
	PublicURL string `json:"public-url" mapstructure:"public-url"`
	// KeyPrefix is the leading path segment of generated keys.
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Backend:    BackendMemory,
		Bucket:     "kb_objects",
		PresignTTL: time.Hour,
		PublicURL:  "http://localhost:8080",
		KeyPrefix:  "knowledge-base",
	}
}

// AddFlags adds flags related to object storage to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "objstore."
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Object store backend (memory, gridfs).")
	fs.StringVar(&o.Bucket, p+"bucket", o.Bucket, "GridFS bucket name.")
	fs.StringVar(&o.SigningKey, p+"signing-key", o.SigningKey, "HMAC key for presigned URLs (min 32 bytes).")
	fs.DurationVar(&o.PresignTTL, p+"presign-ttl", o.PresignTTL, "Default presigned URL lifetime.")
	fs.StringVar(&o.PublicURL, p+"public-url", o.PublicURL, "Public base URL used in presigned links.")
	fs.StringVar(&o.KeyPrefix, p+"key-prefix", o.KeyPrefix, "Leading segment of generated object keys.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	switch o.Backend {
	case BackendMemory, BackendGridFS:
	default:
		errs = append(errs, fmt.Errorf("objstore: unknown backend %q", o.Backend))
	}
	if o.Backend == BackendGridFS && o.Bucket == "" {
		errs = append(errs, fmt.Errorf("objstore: bucket is required for gridfs"))
	}
	if o.SigningKey != "" && len(o.SigningKey) < 32 {
		errs = append(errs, fmt.Errorf("objstore: signing-key must be at least 32 bytes"))
	}
	if o.PresignTTL <= 0 {
		errs = append(errs, fmt.Errorf("objstore: presign-ttl must be positive"))
	}
	return errs
}
