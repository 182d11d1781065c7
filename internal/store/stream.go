package store

import (
	"context"

	rediscommon "wisefido-devicelink/common/redis"

	"github.com/go-redis/redis/v8"
)

// DefaultStreamMaxLen 日志 Stream 近似最大长度
const DefaultStreamMaxLen = 10000

// RedisStreamPublisher 把 JSON 消息 XADD 到 Redis Stream
type RedisStreamPublisher struct {
	client *redis.Client
	maxLen int64
}

func NewRedisStreamPublisher(client *redis.Client, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, stream string, data interface{}) error {
	_, err := rediscommon.PublishJSONToStream(ctx, p.client, stream, data, p.maxLen)
	return err
}
