package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "wisefido-devicelink/common/logger"
	"wisefido-devicelink/internal/config"
	"wisefido-devicelink/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-devicelink")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wisefido-devicelink service",
		zap.String("version", "1.0.0"),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("device_source", cfg.DeviceSource),
		zap.Bool("mqtt_enabled", cfg.MQTT.Enabled()),
		zap.Bool("log_upload_enabled", cfg.Logs.UploadEnabled),
		zap.Duration("remote_poll_interval", cfg.Logs.PollInterval),
	)

	// 创建服务
	svc, err := service.NewDeviceLinkService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create devicelink service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start(ctx)
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}

	// 优雅关闭：先停止服务排空日志转发，再取消上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("Service stopped")
}
