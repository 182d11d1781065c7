package link

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// SerialDialer 通过本机串口设备文件打开直连链路（设备直接插在服务所在主机上）
// 串口参数（波特率等）由 udev/stty 预先配置，这里只负责按设备键打开文件
type SerialDialer struct {
	pattern string // 例如 /dev/serial/by-id/%s
	logger  *zap.Logger
}

// NewSerialDialer pattern 中的 %s 替换为设备键
func NewSerialDialer(pattern string, logger *zap.Logger) *SerialDialer {
	return &SerialDialer{pattern: pattern, logger: logger}
}

// Dial 打开设备文件；设备键不能跳出 pattern 所在目录
func (d *SerialDialer) Dial(ctx context.Context, deviceKey string) (Link, error) {
	key := strings.TrimSpace(deviceKey)
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, "..") {
		return nil, fmt.Errorf("invalid device key %q", deviceKey)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := fmt.Sprintf(d.pattern, key)
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open serial device %s: %w", path, err)
	}
	d.logger.Info("Serial device opened", zap.String("device_key", key), zap.String("path", path))
	return NewReaderLink(f), nil
}
