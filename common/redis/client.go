package redis

import (
	"context"
	"fmt"
	"time"

	"wisefido-devicelink/common/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Client Redis客户端类型别名
type Client = redis.Client

const (
	defaultDialTimeout = 3 * time.Second
	// pingTimeout 启动时连通性检查的上限，Redis 不可达时服务快速失败
	pingTimeout = 5 * time.Second
)

// NewRedisClient 创建Redis客户端；设备列表缓存和日志 Stream 都是短命令，读写超时跟随拨号超时
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  dial,
		ReadTimeout:  dial,
		WriteTimeout: dial,
	})
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// Connect 创建客户端并确认连通，失败时关闭客户端
func Connect(ctx context.Context, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := NewRedisClient(cfg)
	if err := Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logger.Info("Redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}

// Close 关闭客户端，nil 安全
func Close(client *redis.Client, logger *zap.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Error("Error closing Redis client", zap.Error(err))
	}
}
