package logstream

import (
	"sync"
	"time"

	"wisefido-devicelink/internal/models"

	"go.uber.org/zap"
)

// Options 合并器参数
type Options struct {
	PollInterval time.Duration
	FetchLimit   int
	MaxFailures  int
	// ViewMax 对外视图最大条数
	ViewMax int
	// LocalMax 本地缓冲区最大条数
	LocalMax int
	Now      func() time.Time
}

// DefaultOptions 默认参数：2s 轮询、远程 100 条、视图 500 条
func DefaultOptions() Options {
	return Options{
		PollInterval: 2 * time.Second,
		FetchLimit:   100,
		ViewMax:      500,
		LocalMax:     500,
	}
}

// Merger 一个会话的日志合并器
// 本地路径有数据时整体优先于远程路径，二者不按时间交错
type Merger struct {
	opts   Options
	local  *LocalBuffer
	remote *RemotePoller
	logger *zap.Logger

	mu    sync.Mutex
	sinks []Sink
}

// Sink 本地日志的下游（转发到持久化服务等）
type Sink interface {
	Accept(deviceKey string, entry models.LogEntry)
}

// NewMerger 创建合并器；fetcher 为 nil 时远程路径不可用
func NewMerger(fetcher RemoteFetcher, opts Options, logger *zap.Logger) *Merger {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = def.FetchLimit
	}
	if opts.ViewMax <= 0 {
		opts.ViewMax = def.ViewMax
	}
	if opts.LocalMax <= 0 {
		opts.LocalMax = def.LocalMax
	}

	m := &Merger{
		opts:   opts,
		local:  NewLocalBuffer(opts.LocalMax, opts.Now),
		logger: logger,
	}
	if fetcher != nil {
		m.remote = NewRemotePoller(fetcher, PollerOptions{
			Interval:    opts.PollInterval,
			Limit:       opts.FetchLimit,
			MaxFailures: opts.MaxFailures,
		}, logger)
	}
	return m
}

// AddSink 注册本地日志下游
func (m *Merger) AddSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// AppendLocal 追加一行直连日志；本地路径激活时远程轮询立即停止
func (m *Merger) AppendLocal(deviceKey, line, origin string) models.LogEntry {
	entry := m.local.Append(line, origin)
	if m.remote != nil && m.remote.Active() {
		m.remote.Stop()
	}

	m.mu.Lock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.Unlock()
	for _, s := range sinks {
		s.Accept(deviceKey, entry)
	}
	return entry
}

// EvaluateRemote 根据当前条件启停远程轮询
// 只有在没有直连链路、调用方有权限且设备键非空时轮询
func (m *Merger) EvaluateRemote(deviceKey string, directLink, authorized bool) {
	if m.remote == nil {
		return
	}
	if directLink || !authorized || deviceKey == "" || m.local.Len() > 0 {
		m.remote.Stop()
		return
	}
	m.remote.Start(deviceKey)
}

// StopRemote 停止远程轮询并重置其状态
func (m *Merger) StopRemote() {
	if m.remote != nil {
		m.remote.Stop()
	}
}

// Clear 清空本地和远程已显示的日志
func (m *Merger) Clear() {
	m.local.Clear()
	if m.remote != nil {
		m.remote.ClearBuffer()
	}
}

// ResetLocal 直连链路结束后丢弃本地日志，视图回到远程路径
func (m *Merger) ResetLocal() {
	m.local.Clear()
}

// View 当前对外视图
func (m *Merger) View() models.MergedLogView {
	var (
		remote    []models.LogEntry
		streaming bool
		watermark int64
	)
	if m.remote != nil {
		remote = m.remote.Entries()
		streaming = m.remote.Active()
		watermark = m.remote.Watermark()
	}
	return BuildView(m.local.Entries(), remote, m.opts.ViewMax, streaming, watermark)
}

// RemoteMetrics 远程轮询统计，远程路径不可用时返回零值
func (m *Merger) RemoteMetrics() PollerMetrics {
	if m.remote == nil {
		return PollerMetrics{}
	}
	return m.remote.Metrics()
}

// BuildView 本地有数据时整体使用本地，否则使用远程；截断到最近 max 条
func BuildView(local, remote []models.LogEntry, max int, streamingRemote bool, watermark int64) models.MergedLogView {
	src := remote
	if len(local) > 0 {
		src = local
	}
	return models.MergedLogView{
		Entries:             tail(src, max),
		LastSeenTimestampMs: watermark,
		IsStreamingRemote:   streamingRemote,
	}
}
