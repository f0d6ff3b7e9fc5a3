// Package objstore stores uploaded and downloaded source files (documents,
// media, YouTube downloads) and hands out time-limited signed URLs for them.
package objstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PutOptions are optional attributes of a stored object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Bucket is a flat key/value object store. Put on an existing key replaces it.
type Bucket interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (*ObjectInfo, error)
	// Get returns ErrKBObjectNotFound for a missing key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	Copy(ctx context.Context, src, dst string) error
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)
}

// KeyGenerator builds structured object keys.
type KeyGenerator struct {
	Prefix string
	now    func() time.Time
}

// NewKeyGenerator creates a key generator with the given leading segment.
func NewKeyGenerator(prefix string) *KeyGenerator {
	return &KeyGenerator{Prefix: strings.Trim(prefix, "/"), now: time.Now}
}

// GenerateKey returns <prefix>/<content type>/<owner>/<yyyy>/<mm>/<item id>[.ext].
func (g *KeyGenerator) GenerateKey(contentType, owner, filename, itemID string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	name := itemID
	if ext != "" {
		name += "." + ext
	}
	if owner == "" {
		owner = "shared"
	}
	return path.Join(g.Prefix, strings.ToLower(contentType), owner, g.now().UTC().Format("2006/01"), name)
}

// ValidateKey rejects empty keys and path traversal.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.ContainsRune(key, 0) {
		return errors.ErrKBInvalidRequest.WithMessagef("invalid object key %q", key)
	}
	return nil
}

// ReadAll reads a whole object; used by extractors that need random access.
func ReadAll(ctx context.Context, b Bucket, key string) ([]byte, *ObjectInfo, error) {
	rc, info, err := b.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, info, nil
}
