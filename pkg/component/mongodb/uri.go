package mongodb

import (
	"net/url"
	"strconv"
	"strings"

	options "github.com/kart-io/sentinel-kb/pkg/options/mongodb"
)

// BuildURI builds a MongoDB URI from options.
// An explicit URI wins; otherwise one is assembled from host, port and credentials.
func BuildURI(opts *options.Options) string {
	if opts.URI != "" {
		return opts.URI
	}

	var b strings.Builder
	b.WriteString("mongodb://")

	if opts.Username != "" {
		b.WriteString(url.QueryEscape(opts.Username))
		if opts.Password != "" {
			b.WriteString(":")
			b.WriteString(url.QueryEscape(opts.Password))
		}
		b.WriteString("@")
	}

	b.WriteString(opts.Host)
	if opts.Port != 0 {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(opts.Port))
	}
	b.WriteString("/")
	b.WriteString(opts.Database)

	params := url.Values{}
	if opts.AuthSource != "" && opts.AuthSource != "admin" {
		params.Add("authSource", opts.AuthSource)
	}
	if opts.ReplicaSet != "" {
		params.Add("replicaSet", opts.ReplicaSet)
	}
	if opts.Direct {
		params.Add("directConnection", "true")
	}
	if len(params) > 0 {
		b.WriteString("?")
		b.WriteString(params.Encode())
	}

	return b.String()
}
