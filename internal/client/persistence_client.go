// Package client 持久化服务（设备与 USB 日志）HTTP 客户端
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"wisefido-devicelink/common/config"
	"wisefido-devicelink/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrUnauthorized 持久化服务拒绝访问（401/403）
var ErrUnauthorized = errors.New("persistence api: unauthorized")

// maxLogsPerRequest POST /usb-logs 每次最多 100 条
const maxLogsPerRequest = 100

// PersistenceClient 持久化服务客户端
type PersistenceClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewPersistenceClient 创建客户端
func NewPersistenceClient(cfg *config.PersistenceAPIConfig, logger *zap.Logger) *PersistenceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &PersistenceClient{
		httpClient: client,
		logger:     logger,
	}
}

type devicesEnvelope struct {
	Success *bool                    `json:"success"`
	Error   string                   `json:"error"`
	Devices []models.PersistedDevice `json:"devices"`
}

// ListDevices GET /devices
// 兼容 {"success":true,"devices":[...]} 和直接返回数组两种格式
func (c *PersistenceClient) ListDevices(ctx context.Context) ([]models.PersistedDevice, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get("/devices")
	if err != nil {
		return nil, fmt.Errorf("failed to call GET /devices: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) > 0 && body[0] == '[' {
		var devices []models.PersistedDevice
		if err := json.Unmarshal(body, &devices); err != nil {
			return nil, fmt.Errorf("failed to unmarshal devices: %w", err)
		}
		return devices, nil
	}

	var env devicesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal devices: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return nil, fmt.Errorf("GET /devices failed: %s", env.Error)
	}
	return env.Devices, nil
}

type usbLogRow struct {
	ID          models.FlexString `json:"id"`
	LogLine     *string           `json:"log_line"`
	LogSource   string            `json:"log_source"`
	TimestampMs models.NullFloat  `json:"timestamp_ms"`
	CreatedAt   models.NullTime   `json:"created_at"`
}

type usbLogsEnvelope struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Logs    []usbLogRow `json:"logs"`
}

// FetchUsbLogs GET /usb-logs/{deviceKey}?limit=N[&since=ms]
// id 加上 remote- 前缀；timestamp_ms 缺失时使用 created_at；缺少 id、内容或时间的行被跳过
func (c *PersistenceClient) FetchUsbLogs(ctx context.Context, deviceKey string, limit int, sinceMs int64) ([]models.LogEntry, error) {
	req := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("deviceKey", deviceKey).
		SetQueryParam("limit", strconv.Itoa(limit))
	if sinceMs > 0 {
		req.SetQueryParam("since", strconv.FormatInt(sinceMs, 10))
	}

	resp, err := req.Get("/usb-logs/{deviceKey}")
	if err != nil {
		return nil, fmt.Errorf("failed to call GET /usb-logs: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var env usbLogsEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal usb logs: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("GET /usb-logs failed: %s", env.Error)
	}

	entries := make([]models.LogEntry, 0, len(env.Logs))
	skipped := 0
	for _, row := range env.Logs {
		entry, ok := row.toEntry()
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	if skipped > 0 {
		c.logger.Debug("Skipped malformed usb log rows",
			zap.String("device_key", deviceKey),
			zap.Int("skipped", skipped),
		)
	}
	return entries, nil
}

func (r usbLogRow) toEntry() (models.LogEntry, bool) {
	if r.ID == "" || r.LogLine == nil {
		return models.LogEntry{}, false
	}
	var ts int64
	switch {
	case r.TimestampMs.Valid:
		ts = int64(r.TimestampMs.Float64)
	case r.CreatedAt.Valid:
		ts = r.CreatedAt.Time.UnixMilli()
	default:
		return models.LogEntry{}, false
	}
	return models.LogEntry{
		ID:          models.RemoteIDPrefix + r.ID.String(),
		TimestampMs: ts,
		Line:        *r.LogLine,
		Source:      models.LogSourceRemote,
		Origin:      r.LogSource,
	}, true
}

type postLogItem struct {
	LogLine   string `json:"log_line"`
	LogSource string `json:"log_source"`
	Timestamp int64  `json:"timestamp"`
}

type postLogsRequest struct {
	DeviceIdentifier string        `json:"device_identifier"`
	DeviceName       string        `json:"device_name,omitempty"`
	Logs             []postLogItem `json:"logs"`
}

type postLogsResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	InsertedCount int    `json:"inserted_count"`
}

// InsertUsbLogs POST /usb-logs，按设备分组，每次最多 100 条
func (c *PersistenceClient) InsertUsbLogs(ctx context.Context, records []models.UsbLogRecord) error {
	for _, group := range groupByDevice(records) {
		for start := 0; start < len(group.Logs); start += maxLogsPerRequest {
			end := start + maxLogsPerRequest
			if end > len(group.Logs) {
				end = len(group.Logs)
			}
			body := postLogsRequest{
				DeviceIdentifier: group.DeviceIdentifier,
				DeviceName:       group.DeviceName,
				Logs:             group.Logs[start:end],
			}
			if err := c.postLogs(ctx, body); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *PersistenceClient) postLogs(ctx context.Context, body postLogsRequest) error {
	var result postLogsResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/usb-logs")
	if err != nil {
		return fmt.Errorf("failed to call POST /usb-logs: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("POST /usb-logs failed: %s", result.Error)
	}

	c.logger.Debug("Uploaded usb logs",
		zap.String("device_key", body.DeviceIdentifier),
		zap.Int("inserted_count", result.InsertedCount),
	)
	return nil
}

// groupByDevice 按 device_identifier 分组，保持首次出现的顺序
func groupByDevice(records []models.UsbLogRecord) []postLogsRequest {
	index := make(map[string]int)
	var groups []postLogsRequest
	for _, r := range records {
		i, ok := index[r.DeviceIdentifier]
		if !ok {
			i = len(groups)
			index[r.DeviceIdentifier] = i
			groups = append(groups, postLogsRequest{DeviceIdentifier: r.DeviceIdentifier, DeviceName: r.DeviceName})
		}
		groups[i].Logs = append(groups[i].Logs, postLogItem{
			LogLine:   r.LogLine,
			LogSource: r.LogSource,
			Timestamp: r.TimestampMs,
		})
	}
	return groups
}

func checkStatus(resp *resty.Response) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code >= 400:
		return fmt.Errorf("persistence api returned status %d", code)
	}
	return nil
}
