// Package milvus provides options for the Milvus vector store client.
package milvus

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-kb/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains Milvus client configuration.
type Options struct {
	// Address is the Milvus server address (host:port).
	Address  string `json:"address" mapstructure:"address"`
	Database string `json:"database" mapstructure:"database"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`

	// Timeout bounds connection setup and each operation.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// CollectionPrefix is followed by the vector dimension, e.g. kb_chunks_768.
	CollectionPrefix string `json:"collection-prefix" mapstructure:"collection-prefix"`

	// NList and NProbe tune the IVF_FLAT index.
	NList  int `json:"nlist" mapstructure:"nlist"`
	NProbe int `json:"nprobe" mapstructure:"nprobe"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:          "localhost:19530",
		Database:         "default",
		Timeout:          30 * time.Second,
		CollectionPrefix: "kb_chunks_",
		NList:            128,
		NProbe:           16,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "milvus."
	fs.StringVar(&o.Address, p+"address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, p+"database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, p+"username", o.Username, "Milvus username for authentication.")
	fs.StringVar(&o.Password, p+"password", o.Password, "Milvus password for authentication.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Connection and operation timeout.")
	fs.StringVar(&o.CollectionPrefix, p+"collection-prefix", o.CollectionPrefix, "Chunk collection name prefix; the dimension is appended.")
	fs.IntVar(&o.NList, p+"nlist", o.NList, "IVF_FLAT nlist.")
	fs.IntVar(&o.NProbe, p+"nprobe", o.NProbe, "IVF_FLAT nprobe at search time.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus: address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus: timeout must be positive"))
	}
	if o.CollectionPrefix == "" {
		errs = append(errs, fmt.Errorf("milvus: collection-prefix is required"))
	}
	if o.NList <= 0 || o.NProbe <= 0 {
		errs = append(errs, fmt.Errorf("milvus: nlist and nprobe must be positive"))
	}
	return errs
}

// CollectionName returns the chunk collection for a vector dimension.
func (o *Options) CollectionName(dim int) string {
	return fmt.Sprintf("%s%d", o.CollectionPrefix, dim)
}
