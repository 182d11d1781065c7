package redis

import (
	"context"
	"testing"
	"time"

	"wisefido-devicelink/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConnect_PingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), &config.RedisConfig{Addr: mr.Addr(), PoolSize: 4}, zap.NewNop())
	require.NoError(t, err)
	defer Close(client, zap.NewNop())

	assert.Equal(t, 4, client.Options().PoolSize)
	assert.Equal(t, defaultDialTimeout, client.Options().DialTimeout)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))
}

func TestConnect_UnreachableFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), &config.RedisConfig{Addr: addr, DialTimeout: 100 * time.Millisecond}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

func TestClose_NilClient(t *testing.T) {
	assert.NotPanics(t, func() { Close(nil, zap.NewNop()) })
}
