package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-devicelink/internal/models"
	"wisefido-devicelink/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeKVStore 仅用于单元测试（内存 KV + TTL）
type fakeKVStore struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]string)}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKVStore) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

type fakeSource struct {
	devices []models.PersistedDevice
	err     error
	calls   int
}

func (s *fakeSource) ListDevices(ctx context.Context) ([]models.PersistedDevice, error) {
	s.calls++
	return s.devices, s.err
}

func sampleDevices() []models.PersistedDevice {
	return []models.PersistedDevice{{
		ID:          "1",
		ICCID:       models.StringPtr("8933"),
		Name:        "OTT-1",
		Status:      "active",
		LastBattery: models.NewNullFloat(80),
		UpdatedAt:   models.NewNullTime(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
	}}
}

func TestCatalog_CachesUntilInvalidated(t *testing.T) {
	src := &fakeSource{devices: sampleDevices()}
	c := NewCatalog(src, newFakeKVStore(), 30*time.Second, zap.NewNop())
	ctx := context.Background()

	first, err := c.ListDevices(ctx)
	require.NoError(t, err)
	second, err := c.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, first, second)

	require.NoError(t, c.Invalidate(ctx))
	_, err = c.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCatalog_CacheErrorFallsBackToSource(t *testing.T) {
	kv := newFakeKVStore()
	kv.getErr = errors.New("connection refused")
	src := &fakeSource{devices: sampleDevices()}
	c := NewCatalog(src, kv, time.Minute, zap.NewNop())

	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestCatalog_MalformedCacheIgnored(t *testing.T) {
	kv := newFakeKVStore()
	kv.data[DefaultCacheKey] = "{not json"
	src := &fakeSource{devices: sampleDevices()}
	c := NewCatalog(src, kv, time.Minute, zap.NewNop())

	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Equal(t, 1, src.calls)
}

func TestCatalog_SourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("502")}
	c := NewCatalog(src, nil, time.Minute, zap.NewNop())

	_, err := c.ListDevices(context.Background())
	assert.ErrorIs(t, err, src.err)
	assert.NoError(t, c.Invalidate(context.Background()))
}

func TestCatalog_WithMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	src := &fakeSource{devices: sampleDevices()}
	c := NewCatalog(src, store.NewRedisKVStore(client), 30*time.Second, zap.NewNop())
	ctx := context.Background()

	_, err := c.ListDevices(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists(DefaultCacheKey))
	assert.Equal(t, 30*time.Second, mr.TTL(DefaultCacheKey))

	cached, err := c.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 80.0, cached[0].LastBattery.Float64)
	assert.True(t, cached[0].UpdatedAt.Time.Equal(sampleDevices()[0].UpdatedAt.Time))

	require.NoError(t, c.Invalidate(ctx))
	assert.False(t, mr.Exists(DefaultCacheKey))
}
