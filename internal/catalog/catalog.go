// Package catalog 持久化设备列表的 Redis 缓存
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-devicelink/internal/models"
	"wisefido-devicelink/internal/store"

	"go.uber.org/zap"
)

// DefaultCacheKey 设备列表缓存键
const DefaultCacheKey = "devicelink:devices:list"

// DeviceSource 设备列表的真实来源（持久化服务 API 或 Postgres）
type DeviceSource interface {
	ListDevices(ctx context.Context) ([]models.PersistedDevice, error)
}

// Catalog 带缓存的设备列表
// 缓存读写失败只影响性能，降级为直接查询来源
type Catalog struct {
	source DeviceSource
	kv     store.KVStore
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalog kv 为 nil 时不缓存
func NewCatalog(source DeviceSource, kv store.KVStore, ttl time.Duration, logger *zap.Logger) *Catalog {
	return &Catalog{
		source: source,
		kv:     kv,
		key:    DefaultCacheKey,
		ttl:    ttl,
		logger: logger,
	}
}

// ListDevices 优先读缓存，未命中时查询来源并回填
func (c *Catalog) ListDevices(ctx context.Context) ([]models.PersistedDevice, error) {
	if c.kv != nil {
		raw, err := c.kv.Get(ctx, c.key)
		switch {
		case err == nil:
			var devices []models.PersistedDevice
			jsonErr := json.Unmarshal([]byte(raw), &devices)
			if jsonErr == nil {
				return devices, nil
			}
			c.logger.Warn("Discarding malformed device cache", zap.Error(jsonErr))
		case !errors.Is(err, store.ErrMiss):
			c.logger.Warn("Failed to read device cache", zap.Error(err))
		}
	}

	devices, err := c.source.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	if c.kv != nil {
		data, err := json.Marshal(devices)
		if err == nil {
			err = c.kv.Set(ctx, c.key, string(data), c.ttl)
		}
		if err != nil {
			c.logger.Warn("Failed to write device cache", zap.Error(err))
		}
	}

	c.logger.Debug("Loaded device list from source", zap.Int("count", len(devices)))
	return devices, nil
}

// Invalidate 删除缓存，下一次 ListDevices 直接查询来源
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c.kv == nil {
		return nil
	}
	if err := c.kv.Del(ctx, c.key); err != nil {
		return fmt.Errorf("failed to invalidate device cache: %w", err)
	}
	return nil
}
