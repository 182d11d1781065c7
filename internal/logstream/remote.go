package logstream

import (
	"context"
	"sync"
	"time"

	"wisefido-devicelink/internal/models"

	"go.uber.org/zap"
)

// RemoteFetcher 远程日志查询（GET /usb-logs/{deviceKey}）
// sinceMs 为 0 表示不带 since，返回最近 limit 条
type RemoteFetcher interface {
	FetchUsbLogs(ctx context.Context, deviceKey string, limit int, sinceMs int64) ([]models.LogEntry, error)
}

// PollerMetrics 远程轮询统计
type PollerMetrics struct {
	mu sync.RWMutex

	FetchesTotal     int64 // 发起的拉取次数
	FetchesFailed    int64 // 失败次数
	FetchesDiscarded int64 // 停止或切换设备后到达、被丢弃的结果
	EntriesReceived  int64 // 收到的日志条数（去重前）

	LastFetchTime time.Time
	LastError     string
}

// GetSnapshot 获取指标快照（线程安全）
func (m *PollerMetrics) GetSnapshot() PollerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return PollerMetrics{
		FetchesTotal:     m.FetchesTotal,
		FetchesFailed:    m.FetchesFailed,
		FetchesDiscarded: m.FetchesDiscarded,
		EntriesReceived:  m.EntriesReceived,
		LastFetchTime:    m.LastFetchTime,
		LastError:        m.LastError,
	}
}

func (m *PollerMetrics) recordFetch(entries int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchesTotal++
	m.LastFetchTime = time.Now()
	if err != nil {
		m.FetchesFailed++
		m.LastError = err.Error()
		return
	}
	m.EntriesReceived += int64(entries)
}

func (m *PollerMetrics) recordDiscarded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchesDiscarded++
}

// PollerOptions 轮询参数
type PollerOptions struct {
	Interval time.Duration
	Limit    int
	// MaxFailures 连续失败达到该次数后停止轮询，0 表示一直重试
	MaxFailures int
}

// RemotePoller 定时拉取某个设备的远程日志并合并进有界缓冲区
//
// 每次 Start/Stop 递增 generation；拉取结果只有在 generation 未变时才会应用，
// 因此 Stop 之后到达的结果不会修改状态。Stop 不等待进行中的请求。
type RemotePoller struct {
	fetcher RemoteFetcher
	opts    PollerOptions
	logger  *zap.Logger
	metrics *PollerMetrics

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	key        string
	active     bool
	buffer     []models.LogEntry
	watermark  int64
	failures   int
}

// NewRemotePoller 创建轮询器
func NewRemotePoller(fetcher RemoteFetcher, opts PollerOptions, logger *zap.Logger) *RemotePoller {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	return &RemotePoller{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		metrics: &PollerMetrics{},
	}
}

// Start 开始轮询 deviceKey；已在轮询同一设备时不做任何事
func (p *RemotePoller) Start(deviceKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active && p.key == deviceKey {
		return
	}
	p.resetLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.key = deviceKey
	p.active = true
	gen := p.generation

	p.logger.Info("Remote log polling started",
		zap.String("device_key", deviceKey),
		zap.Duration("interval", p.opts.Interval),
	)
	go p.run(ctx, gen, deviceKey)
}

// Stop 停止轮询并清空缓冲区和水位
func (p *RemotePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		p.logger.Info("Remote log polling stopped", zap.String("device_key", p.key))
	}
	p.resetLocked()
}

func (p *RemotePoller) resetLocked() {
	p.generation++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.key = ""
	p.active = false
	p.buffer = nil
	p.watermark = 0
	p.failures = 0
}

func (p *RemotePoller) run(ctx context.Context, gen uint64, deviceKey string) {
	// 立即拉取一次，之后按固定间隔
	if !p.poll(ctx, gen, deviceKey, true) {
		return
	}

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.poll(ctx, gen, deviceKey, false) {
				return
			}
		}
	}
}

// poll 执行一次拉取，返回是否继续轮询
func (p *RemotePoller) poll(ctx context.Context, gen uint64, deviceKey string, initial bool) bool {
	var since int64
	if !initial {
		p.mu.Lock()
		since = p.watermark
		p.mu.Unlock()
	}

	batch, err := p.fetcher.FetchUsbLogs(ctx, deviceKey, p.opts.Limit, since)
	p.metrics.recordFetch(len(batch), err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		p.metrics.recordDiscarded()
		return false
	}

	if err != nil {
		p.failures++
		p.logger.Warn("Failed to fetch remote logs",
			zap.String("device_key", deviceKey),
			zap.Int("consecutive_failures", p.failures),
			zap.Error(err),
		)
		if p.opts.MaxFailures > 0 && p.failures >= p.opts.MaxFailures {
			p.logger.Error("Remote log polling gave up",
				zap.String("device_key", deviceKey),
				zap.Int("max_failures", p.opts.MaxFailures),
			)
			p.active = false
			if p.cancel != nil {
				p.cancel()
				p.cancel = nil
			}
			return false
		}
		return true
	}
	p.failures = 0

	if initial {
		p.buffer = MergeBatch(nil, batch, p.opts.Limit)
	} else {
		p.buffer = MergeBatch(p.buffer, batch, p.opts.Limit)
	}
	if ts := MaxTimestamp(batch); ts > p.watermark {
		p.watermark = ts
	}
	return true
}

// Entries 当前远程缓冲区副本
func (p *RemotePoller) Entries() []models.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return tail(p.buffer, 0)
}

// ClearBuffer 清空已显示的远程日志，保留水位（不会重新拉取旧日志）
func (p *RemotePoller) ClearBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = nil
}

// Watermark 已合并的最大 timestamp_ms
func (p *RemotePoller) Watermark() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermark
}

// Active 是否正在轮询
func (p *RemotePoller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Key 正在轮询的设备键
func (p *RemotePoller) Key() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

// Metrics 统计快照
func (p *RemotePoller) Metrics() PollerMetrics {
	return p.metrics.GetSnapshot()
}
