package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-devicelink/common/config"
)

// 设备列表来源
const (
	DeviceSourceAPI      = "api"
	DeviceSourcePostgres = "postgres"
)

// Config 直连设备遥测服务配置
type Config struct {
	Database       config.DatabaseConfig
	Redis          config.RedisConfig
	MQTT           config.MQTTConfig
	PersistenceAPI config.PersistenceAPIConfig

	// DeviceSource 设备和 USB 日志的来源："api"（持久化服务）或 "postgres"（直连数据库）
	DeviceSource string

	HTTP struct {
		Addr string
		// JWTSecret 为空时只信任网关注入的 X-User-Role 头
		JWTSecret string
	}

	Resolver struct {
		SettleDelay     time.Duration // 连接后失效缓存到重新拉取之间的等待，默认 200ms
		RequireBothKeys bool          // 两侧 iccid/serial 都存在时要求一致，默认 false
		CacheTTL        time.Duration // 设备列表缓存 TTL，默认 30s
		// VirtualRefreshInterval 解析为虚拟设备期间重新拉取设备列表的间隔，默认 5s
		VirtualRefreshInterval time.Duration
	}

	Logs struct {
		PollInterval time.Duration // 远程日志轮询间隔，默认 2s
		FetchLimit   int           // 每次远程拉取条数，默认 100
		ViewMax      int           // 对外视图最大条数，默认 500
		LocalMax     int           // 本地缓冲区最大条数，默认 500
		MaxFailures  int           // 连续失败上限，0 表示一直重试
		// UploadEnabled 把本地日志转发到 usb_logs 和 Redis Stream
		UploadEnabled bool
	}

	Link struct {
		TopicPattern string // USB 网关主题，默认 usb/%s/stream
		// SerialPattern 本机串口设备路径，例如 /dev/serial/by-id/%s；非空时优先于 MQTT
		SerialPattern string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "ott")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.ClientID = "wisefido-devicelink"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.PersistenceAPI.BaseURL = getEnv("PERSISTENCE_API_URL", "http://localhost:8000/api.php")
	cfg.PersistenceAPI.Timeout = 10 * time.Second
	cfg.PersistenceAPI.LoadFromEnv("PERSISTENCE_API")

	cfg.DeviceSource = getEnv("DEVICE_SOURCE", DeviceSourceAPI)
	if cfg.DeviceSource != DeviceSourceAPI && cfg.DeviceSource != DeviceSourcePostgres {
		return nil, fmt.Errorf("invalid DEVICE_SOURCE %q (expected %q or %q)", cfg.DeviceSource, DeviceSourceAPI, DeviceSourcePostgres)
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8086")
	cfg.HTTP.JWTSecret = getEnv("JWT_SECRET", "")

	cfg.Resolver.SettleDelay = getEnvMillis("SETTLE_DELAY_MS", 200)
	cfg.Resolver.RequireBothKeys = getEnv("REQUIRE_BOTH_KEYS", "false") == "true"
	cfg.Resolver.CacheTTL = time.Duration(getEnvInt("DEVICE_CACHE_TTL_SEC", 30)) * time.Second
	cfg.Resolver.VirtualRefreshInterval = getEnvMillis("VIRTUAL_REFRESH_INTERVAL_MS", 5000)

	cfg.Logs.PollInterval = getEnvMillis("REMOTE_POLL_INTERVAL_MS", 2000)
	cfg.Logs.FetchLimit = getEnvInt("REMOTE_FETCH_LIMIT", 100)
	cfg.Logs.ViewMax = getEnvInt("VIEW_MAX_ENTRIES", 500)
	cfg.Logs.LocalMax = getEnvInt("LOCAL_MAX_ENTRIES", 500)
	cfg.Logs.MaxFailures = getEnvInt("REMOTE_MAX_FAILURES", 0)
	cfg.Logs.UploadEnabled = getEnv("LOG_UPLOAD_ENABLED", "true") == "true"

	cfg.Link.TopicPattern = getEnv("LINK_TOPIC_PATTERN", "usb/%s/stream")
	cfg.Link.SerialPattern = getEnv("LINK_SERIAL_PATTERN", "")
	if cfg.Link.SerialPattern != "" && strings.Count(cfg.Link.SerialPattern, "%s") != 1 {
		return nil, fmt.Errorf("invalid LINK_SERIAL_PATTERN %q (expected exactly one %%s)", cfg.Link.SerialPattern)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 非法或负数时使用默认值
func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil && v >= 0 {
		return v
	}
	return defaultValue
}

func getEnvMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMs)) * time.Millisecond
}
