package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/sentinel-kb/pkg/options/redis"
)

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)

	opts := options.NewOptions()
	opts.Port = 0
	_, err = New(context.Background(), opts)
	assert.ErrorContains(t, err, "invalid redis options")
}

func TestNew_LocalServer(t *testing.T) {
	opts := options.NewOptions()
	opts.DialTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := New(ctx, opts)
	if err != nil {
		t.Skipf("redis not available at %s: %v", opts.Addr(), err)
	}
	defer func() { require.NoError(t, client.Close()) }()

	assert.Equal(t, "redis", client.Name())
	assert.NoError(t, client.Ping(ctx))
	assert.NotNil(t, client.Raw())
	require.NoError(t, client.Close())
}
