package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/pkg/infra/pool"
)

type fakeClient struct {
	name    string
	pingErr error
	closed  *[]string
}

func (f *fakeClient) Name() string                   { return f.name }
func (f *fakeClient) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeClient) Close() error {
	*f.closed = append(*f.closed, f.name)
	return nil
}

func TestManager_RegisterAndGet(t *testing.T) {
	var closed []string
	m := NewManager(nil)

	require.NoError(t, m.Register("mongodb", &fakeClient{name: "mongodb", closed: &closed}))
	assert.ErrorIs(t, m.Register("mongodb", &fakeClient{closed: &closed}), ErrClientAlreadyExists)
	assert.ErrorIs(t, m.Register("", &fakeClient{closed: &closed}), ErrInvalidClient)
	assert.ErrorIs(t, m.Register("x", nil), ErrInvalidClient)

	c, err := m.Get("mongodb")
	require.NoError(t, err)
	assert.Equal(t, "mongodb", c.Name())

	_, err = m.Get("redis")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestManager_HealthCheckAll(t *testing.T) {
	var closed []string
	workers, err := pool.New("health", pool.BackgroundPoolConfig())
	require.NoError(t, err)
	defer func() { _ = workers.Release(time.Second) }()

	m := NewManager(workers)
	require.NoError(t, m.Register("mongodb", &fakeClient{name: "mongodb", closed: &closed}))
	require.NoError(t, m.Register("redis", &fakeClient{name: "redis", pingErr: errors.New("refused"), closed: &closed}))

	st := m.HealthCheckAll(context.Background())
	require.Len(t, st, 2)
	assert.True(t, st["mongodb"].Healthy)
	assert.False(t, st["redis"].Healthy)
	assert.Equal(t, "refused", st["redis"].Error)
	assert.False(t, m.AllHealthy(context.Background()))
}

func TestManager_CloseAllReverseOrder(t *testing.T) {
	var closed []string
	m := NewManager(nil)
	require.NoError(t, m.Register("a", &fakeClient{name: "a", closed: &closed}))
	require.NoError(t, m.Register("b", &fakeClient{name: "b", closed: &closed}))

	require.NoError(t, m.CloseAll())
	assert.Equal(t, []string{"b", "a"}, closed)
	assert.Empty(t, m.List())
}
