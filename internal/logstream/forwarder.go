package logstream

import (
	"context"
	"sync"
	"time"

	"wisefido-devicelink/internal/models"

	"go.uber.org/zap"
)

// MaxUploadBatch 单次上传的最大条数
const MaxUploadBatch = 100

// LogStreamName 本地日志发布的 Redis Stream
const LogStreamName = "usb:logs:stream"

// Uploader 批量写入 usb_logs（持久化服务或 Postgres）
type Uploader interface {
	InsertUsbLogs(ctx context.Context, records []models.UsbLogRecord) error
}

// StreamPublisher 发布单条日志到消息流
type StreamPublisher interface {
	Publish(ctx context.Context, stream string, data interface{}) error
}

// ForwarderMetrics 转发统计
type ForwarderMetrics struct {
	mu sync.RWMutex

	Accepted      int64
	Dropped       int64 // 队列满丢弃
	Uploaded      int64
	UploadFailed  int64
	PublishFailed int64
}

// GetSnapshot 获取指标快照（线程安全）
func (m *ForwarderMetrics) GetSnapshot() ForwarderMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ForwarderMetrics{
		Accepted:      m.Accepted,
		Dropped:       m.Dropped,
		Uploaded:      m.Uploaded,
		UploadFailed:  m.UploadFailed,
		PublishFailed: m.PublishFailed,
	}
}

func (m *ForwarderMetrics) add(field *int64, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field += n
}

type pendingLog struct {
	key   string
	entry models.LogEntry
}

// Forwarder 把本地日志批量转发给其他会话可见的存储
// 失败只记录日志，不影响本地视图
type Forwarder struct {
	uploader  Uploader
	publisher StreamPublisher
	interval  time.Duration
	logger    *zap.Logger
	metrics   *ForwarderMetrics

	queue  chan pendingLog
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewForwarder uploader / publisher 均可为 nil
func NewForwarder(uploader Uploader, publisher StreamPublisher, flushInterval time.Duration, logger *zap.Logger) *Forwarder {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Forwarder{
		uploader:  uploader,
		publisher: publisher,
		interval:  flushInterval,
		logger:    logger,
		metrics:   &ForwarderMetrics{},
		queue:     make(chan pendingLog, 10*MaxUploadBatch),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Accept 实现 Sink，队列满时丢弃
func (f *Forwarder) Accept(deviceKey string, entry models.LogEntry) {
	if deviceKey == "" {
		return
	}
	select {
	case f.queue <- pendingLog{key: deviceKey, entry: entry}:
		f.metrics.add(&f.metrics.Accepted, 1)
	default:
		f.metrics.add(&f.metrics.Dropped, 1)
	}
}

// Start 启动转发循环
func (f *Forwarder) Start(ctx context.Context) {
	go f.run(ctx)
}

// Stop 停止并尽量发送剩余日志
func (f *Forwarder) Stop(ctx context.Context) error {
	f.once.Do(func() { close(f.stopCh) })
	select {
	case <-f.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) run(ctx context.Context) {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	batch := make([]pendingLog, 0, MaxUploadBatch)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		f.send(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			// 排空队列
			for {
				select {
				case p := <-f.queue:
					batch = append(batch, p)
					if len(batch) == MaxUploadBatch {
						flush(ctx)
					}
				default:
					flush(ctx)
					return
				}
			}
		case p := <-f.queue:
			batch = append(batch, p)
			if len(batch) == MaxUploadBatch {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (f *Forwarder) send(ctx context.Context, batch []pendingLog) {
	records := make([]models.UsbLogRecord, 0, len(batch))
	for _, p := range batch {
		origin := p.entry.Origin
		if origin == "" {
			origin = models.OriginDevice
		}
		records = append(records, models.UsbLogRecord{
			DeviceIdentifier: p.key,
			LogLine:          p.entry.Line,
			LogSource:        origin,
			TimestampMs:      p.entry.TimestampMs,
		})
	}

	if f.uploader != nil {
		if err := f.uploader.InsertUsbLogs(ctx, records); err != nil {
			f.metrics.add(&f.metrics.UploadFailed, int64(len(records)))
			f.logger.Warn("Failed to upload usb logs",
				zap.Int("count", len(records)),
				zap.Error(err),
			)
		} else {
			f.metrics.add(&f.metrics.Uploaded, int64(len(records)))
		}
	}

	if f.publisher != nil {
		for _, r := range records {
			if err := f.publisher.Publish(ctx, LogStreamName, r); err != nil {
				f.metrics.add(&f.metrics.PublishFailed, 1)
				f.logger.Debug("Failed to publish usb log to stream",
					zap.String("device_key", r.DeviceIdentifier),
					zap.Error(err),
				)
			}
		}
	}
}

// Metrics 统计快照
func (f *Forwarder) Metrics() ForwarderMetrics {
	return f.metrics.GetSnapshot()
}
