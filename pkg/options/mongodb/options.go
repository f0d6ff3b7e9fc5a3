// Package mongodb provides MongoDB options.
package mongodb

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-kb/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options defines configuration options for MongoDB.
type Options struct {
	// URI takes precedence over Host/Port when set.
	URI      string `json:"uri" mapstructure:"uri"`
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`

	AuthSource string `json:"auth-source" mapstructure:"auth-source"`
	ReplicaSet string `json:"replica-set" mapstructure:"replica-set"`
	Direct     bool   `json:"direct" mapstructure:"direct"`

	MaxPoolSize uint64 `json:"max-pool-size" mapstructure:"max-pool-size"`
	MinPoolSize uint64 `json:"min-pool-size" mapstructure:"min-pool-size"`

	ConnectTimeout         time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ServerSelectionTimeout time.Duration `json:"server-selection-timeout" mapstructure:"server-selection-timeout"`
}

// NewOptions creates a new Options object with default values.
func NewOptions() *Options {
	return &Options{
		Host:                   "127.0.0.1",
		Port:                   27017,
		Database:               "sentinel_kb",
		MaxPoolSize:            100,
		MinPoolSize:            5,
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
	}
}

// String returns a string representation with password redacted.
func (o *Options) String() string {
	return fmt.Sprintf("MongoDB{host=%s, port=%d, user=%s, password=%s, database=%s}",
		o.Host, o.Port, o.Username, options.Redact(o.Password), o.Database)
}

// AddFlags adds flags related to MongoDB to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "mongodb."
	fs.StringVar(&o.URI, p+"uri", o.URI, "MongoDB connection URI; overrides host and port.")
	fs.StringVar(&o.Host, p+"host", o.Host, "MongoDB host.")
	fs.IntVar(&o.Port, p+"port", o.Port, "MongoDB port.")
	fs.StringVar(&o.Username, p+"username", o.Username, "MongoDB username.")
	fs.StringVar(&o.Password, p+"password", o.Password, "MongoDB password (or MONGODB_PASSWORD).")
	fs.StringVar(&o.Database, p+"database", o.Database, "MongoDB database name.")
	fs.StringVar(&o.AuthSource, p+"auth-source", o.AuthSource, "MongoDB authentication database.")
	fs.StringVar(&o.ReplicaSet, p+"replica-set", o.ReplicaSet, "MongoDB replica set name.")
	fs.BoolVar(&o.Direct, p+"direct", o.Direct, "Connect directly to a single host.")
	fs.Uint64Var(&o.MaxPoolSize, p+"max-pool-size", o.MaxPoolSize, "Maximum connections in the pool.")
	fs.Uint64Var(&o.MinPoolSize, p+"min-pool-size", o.MinPoolSize, "Minimum connections in the pool.")
	fs.DurationVar(&o.ConnectTimeout, p+"connect-timeout", o.ConnectTimeout, "Connection timeout.")
	fs.DurationVar(&o.ServerSelectionTimeout, p+"server-selection-timeout", o.ServerSelectionTimeout, "Server selection timeout.")
}

// Validate validates the options and reads the password from the environment when unset.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	if o.Password == "" {
		o.Password = os.Getenv("MONGODB_PASSWORD")
	}

	var errs []error
	if o.URI == "" && o.Host == "" {
		errs = append(errs, fmt.Errorf("mongodb: uri or host is required"))
	}
	if o.URI == "" && (o.Port <= 0 || o.Port > 65535) {
		errs = append(errs, fmt.Errorf("mongodb: invalid port %d", o.Port))
	}
	if o.Database == "" {
		errs = append(errs, fmt.Errorf("mongodb: database is required"))
	}
	if o.MinPoolSize > o.MaxPoolSize {
		errs = append(errs, fmt.Errorf("mongodb: min-pool-size (%d) exceeds max-pool-size (%d)", o.MinPoolSize, o.MaxPoolSize))
	}
	return errs
}
