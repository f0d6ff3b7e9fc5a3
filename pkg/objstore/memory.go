package objstore

import (
	"bytes"
	"context"
	"io"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

type memObject struct {
	data []byte
	info ObjectInfo
}

// Memory is an in-process Bucket for development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]*memObject
}

var _ Bucket = (*Memory)(nil)

// NewMemory creates an empty in-memory bucket.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*memObject)}
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (*ObjectInfo, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.ErrKBStorage.WithCause(err)
	}

	obj := &memObject{
		data: data,
		info: ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  opts.ContentType,
			LastModified: time.Now().UTC(),
			Metadata:     maps.Clone(opts.Metadata),
		},
	}

	m.mu.Lock()
	m.objects[key] = obj
	m.mu.Unlock()

	info := obj.info
	return &info, nil
}

func (m *Memory) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, errors.ErrKBObjectNotFound.WithMessagef("object %s not found", key)
	}
	info := obj.info
	return io.NopCloser(bytes.NewReader(obj.data)), &info, nil
}

func (m *Memory) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, errors.ErrKBObjectNotFound.WithMessagef("object %s not found", key)
	}
	info := obj.info
	return &info, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Copy(ctx context.Context, src, dst string) error {
	if err := ValidateKey(dst); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[src]
	if !ok {
		return errors.ErrKBObjectNotFound.WithMessagef("object %s not found", src)
	}
	cp := &memObject{data: bytes.Clone(obj.data), info: obj.info}
	cp.info.Key = dst
	cp.info.Metadata = maps.Clone(obj.info.Metadata)
	cp.info.LastModified = time.Now().UTC()
	m.objects[dst] = cp
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ObjectInfo, 0)
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
