// Package service 组装直连设备遥测服务
package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"wisefido-devicelink/common/database"
	mqttcommon "wisefido-devicelink/common/mqtt"
	rediscommon "wisefido-devicelink/common/redis"
	"wisefido-devicelink/internal/catalog"
	"wisefido-devicelink/internal/client"
	"wisefido-devicelink/internal/config"
	httpapi "wisefido-devicelink/internal/httpapi"
	"wisefido-devicelink/internal/identity"
	"wisefido-devicelink/internal/link"
	"wisefido-devicelink/internal/logstream"
	"wisefido-devicelink/internal/repository"
	"wisefido-devicelink/internal/session"
	"wisefido-devicelink/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// forwarderFlushInterval 本地日志转发的批量间隔
const forwarderFlushInterval = time.Second

// DeviceLinkService 直连设备遥测服务
type DeviceLinkService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	forwarder   *logstream.Forwarder
	manager     *session.Manager
	router      *httpapi.Router
	server      *Server
}

// logsBackend 设备列表和 USB 日志的后端（持久化服务或数据库）
type logsBackend interface {
	catalog.DeviceSource
	logstream.RemoteFetcher
	logstream.Uploader
}

// postgresBackend 数据库后端
type postgresBackend struct {
	*repository.DeviceRepository
	*repository.UsbLogRepository
}

// NewDeviceLinkService 创建服务
func NewDeviceLinkService(cfg *config.Config, logger *zap.Logger) (*DeviceLinkService, error) {
	s := &DeviceLinkService{
		config: cfg,
		logger: logger,
	}

	// 初始化Redis
	redisClient, err := rediscommon.Connect(context.Background(), &cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.redisClient = redisClient

	var backend logsBackend
	switch cfg.DeviceSource {
	case config.DeviceSourcePostgres:
		db, err := database.NewPostgresDB(context.Background(), &cfg.Database)
		if err != nil {
			rediscommon.Close(s.redisClient, logger)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		backend = postgresBackend{
			DeviceRepository: repository.NewDeviceRepository(db, logger),
			UsbLogRepository: repository.NewUsbLogRepository(db, logger),
		}
	default:
		backend = client.NewPersistenceClient(&cfg.PersistenceAPI, logger)
	}
	logger.Info("Device source configured", zap.String("device_source", cfg.DeviceSource))

	devices := catalog.NewCatalog(backend, store.NewRedisKVStore(s.redisClient), cfg.Resolver.CacheTTL, logger)

	deps := session.Dependencies{
		Catalog: devices,
		Fetcher: backend,
	}
	if cfg.Logs.UploadEnabled {
		publisher := store.NewRedisStreamPublisher(s.redisClient, store.DefaultStreamMaxLen)
		s.forwarder = logstream.NewForwarder(backend, publisher, forwarderFlushInterval, logger)
		deps.Sink = s.forwarder
	}

	// 配置了串口路径时设备直接插在本机；否则走 MQTT 网关
	// 两者都不可用时服务仍可远程查看日志，只是无法建立直连
	var dialer link.Dialer
	if cfg.Link.SerialPattern != "" {
		dialer = link.NewSerialDialer(cfg.Link.SerialPattern, logger)
		logger.Info("Direct links use local serial devices", zap.String("pattern", cfg.Link.SerialPattern))
	} else if cfg.MQTT.Enabled() {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, direct links disabled", zap.Error(err))
		} else {
			s.mqttClient = mqttClient
			dialer = link.NewMQTTDialer(mqttClient, cfg.Link.TopicPattern, logger)
		}
	} else {
		logger.Info("MQTT broker not configured, direct links disabled")
	}

	s.manager = session.NewManager(deps, session.Options{
		Resolver: identity.Options{
			SettleDelay:     cfg.Resolver.SettleDelay,
			RequireBothKeys: cfg.Resolver.RequireBothKeys,
		},
		Logs: logstream.Options{
			PollInterval: cfg.Logs.PollInterval,
			FetchLimit:   cfg.Logs.FetchLimit,
			MaxFailures:  cfg.Logs.MaxFailures,
			ViewMax:      cfg.Logs.ViewMax,
			LocalMax:     cfg.Logs.LocalMax,
		},
		VirtualRefreshInterval: cfg.Resolver.VirtualRefreshInterval,
	}, logger)

	s.router = httpapi.NewRouter(logger)
	s.router.RegisterHealthRoutes()
	s.router.RegisterSessionRoutes(httpapi.NewSessionHandler(s.manager, dialer, httpapi.NewAuthenticator(cfg.HTTP.JWTSecret), logger))
	s.server = NewServer(cfg.HTTP.Addr, s.router, logger)

	return s, nil
}

// Handler HTTP 路由
func (s *DeviceLinkService) Handler() http.Handler {
	return s.router
}

// Sessions 会话管理器
func (s *DeviceLinkService) Sessions() *session.Manager {
	return s.manager
}

// Start 启动后台任务并阻塞提供 HTTP 服务
func (s *DeviceLinkService) Start(ctx context.Context) error {
	s.logger.Info("Starting devicelink service components")

	if s.forwarder != nil {
		s.forwarder.Start(ctx)
	}
	return s.server.Start()
}

// Stop 停止服务
func (s *DeviceLinkService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping devicelink service")

	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}

	// 关闭会话后不再有新的本地日志进入转发队列
	s.manager.CloseAll()

	if s.forwarder != nil {
		if err := s.forwarder.Stop(ctx); err != nil {
			s.logger.Warn("Log forwarder did not drain before shutdown", zap.Error(err))
		}
		m := s.forwarder.Metrics()
		s.logger.Info("Log forwarder stopped",
			zap.Int64("accepted", m.Accepted),
			zap.Int64("uploaded", m.Uploaded),
			zap.Int64("dropped", m.Dropped),
		)
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	rediscommon.Close(s.redisClient, s.logger)

	// 关闭数据库
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Devicelink service stopped")
	return nil
}
