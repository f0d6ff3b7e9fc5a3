package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	options "github.com/kart-io/sentinel-kb/pkg/options/mongodb"
)

func TestBuildURI(t *testing.T) {
	tests := []struct {
		name string
		opts *options.Options
		want string
	}{
		{
			name: "explicit uri wins",
			opts: &options.Options{URI: "mongodb+srv://cluster/kb", Host: "ignored"},
			want: "mongodb+srv://cluster/kb",
		},
		{
			name: "host and port",
			opts: &options.Options{Host: "localhost", Port: 27017, Database: "kb"},
			want: "mongodb://localhost:27017/kb",
		},
		{
			name: "escaped credentials",
			opts: &options.Options{Host: "db", Port: 27017, Username: "kb", Password: "p@ss", Database: "kb"},
			want: "mongodb://kb:p%40ss@db:27017/kb",
		},
		{
			name: "query parameters",
			opts: &options.Options{Host: "db", Database: "kb", AuthSource: "users", ReplicaSet: "rs0", Direct: true},
			want: "mongodb://db/kb?authSource=users&directConnection=true&replicaSet=rs0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildURI(tt.opts))
		})
	}
}
