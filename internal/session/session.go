// Package session 每个连接会话持有自己的身份解析器、实时快照和日志合并器
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-devicelink/internal/arbiter"
	"wisefido-devicelink/internal/identity"
	"wisefido-devicelink/internal/link"
	"wisefido-devicelink/internal/logstream"
	"wisefido-devicelink/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound 会话不存在或已关闭
	ErrSessionNotFound = errors.New("session not found")
	// ErrAlreadyConnected 会话已有直连链路
	ErrAlreadyConnected = errors.New("session already has a direct link")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("session closed")
)

// Dependencies 会话依赖的外部协作者
type Dependencies struct {
	Catalog identity.DeviceCatalog
	Fetcher logstream.RemoteFetcher
	// Sink 本地日志转发，可为 nil
	Sink logstream.Sink
}

// DefaultVirtualRefreshInterval 虚拟设备期间失效缓存并重新拉取设备列表的间隔
const DefaultVirtualRefreshInterval = 5 * time.Second

// Options 会话参数
type Options struct {
	Resolver identity.Options
	Logs     logstream.Options
	// VirtualRefreshInterval 直连设备解析为虚拟设备时的周期刷新，<=0 使用默认值
	VirtualRefreshInterval time.Duration
	Now                    func() time.Time
}

// Snapshot 会话对外可见的状态
type Snapshot struct {
	SessionID      string                 `json:"session_id"`
	State          identity.State         `json:"state"`
	Device         *models.ResolvedDevice `json:"device"`
	DeviceRevision uint64                 `json:"device_revision"`
	DeviceChanged  bool                   `json:"device_changed"`
	Fields        models.Arbitrations    `json:"fields"`
	Live          *models.LiveSnapshot   `json:"live,omitempty"`
	Logs          models.MergedLogView   `json:"logs"`
	DirectLink    bool                   `json:"direct_link"`
	WatchKey      string                 `json:"watch_key,omitempty"`
}

// Session 一个连接会话
type Session struct {
	id     string
	viewer Viewer
	deps   Dependencies
	now    func() time.Time
	logger *zap.Logger

	resolver *identity.Resolver
	merger   *logstream.Merger

	virtualRefresh time.Duration
	refreshing     atomic.Bool

	mu         sync.Mutex
	closed     bool
	link       link.Link
	linkCancel context.CancelFunc
	linkDone   chan struct{}
	live       models.LiveSnapshot
	watchKey   string
	watched    *models.PersistedDevice
}

func newSession(id string, viewer Viewer, deps Dependencies, opts Options, logger *zap.Logger) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Resolver.Now == nil {
		opts.Resolver.Now = opts.Now
	}
	if opts.Logs.Now == nil {
		opts.Logs.Now = opts.Now
	}
	if opts.VirtualRefreshInterval <= 0 {
		opts.VirtualRefreshInterval = DefaultVirtualRefreshInterval
	}

	logger = logger.With(zap.String("session_id", id))
	s := &Session{
		id:       id,
		viewer:   viewer,
		deps:     deps,
		now:      opts.Now,
		logger:   logger,
		resolver: identity.NewResolver(deps.Catalog, opts.Resolver, logger),
		merger:   logstream.NewMerger(deps.Fetcher, opts.Logs, logger),

		virtualRefresh: opts.VirtualRefreshInterval,
	}
	if deps.Sink != nil {
		s.merger.AddSink(deps.Sink)
	}
	return s
}

// ID 会话 ID
func (s *Session) ID() string {
	return s.id
}

// Viewer 会话用户
func (s *Session) Viewer() Viewer {
	return s.viewer
}

// Connect 绑定直连链路并启动读循环
// 返回的 channel 在连接后的设备列表刷新完成时关闭
func (s *Session) Connect(ctx context.Context, l link.Link) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.link != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyConnected
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.link = l
	s.linkCancel = cancel
	s.linkDone = done
	s.live = models.LiveSnapshot{LinkSeenAt: s.now()}
	s.mu.Unlock()

	// 直连可用时不需要远程日志
	s.merger.StopRemote()
	// 刷新随链路生命周期取消，而不是随调用方的请求
	refreshed := s.resolver.Connect(loopCtx)

	go s.readLoop(loopCtx, l, done)

	s.logger.Info("Direct link connected")
	return refreshed, nil
}

func (s *Session) readLoop(ctx context.Context, l link.Link, done chan struct{}) {
	defer close(done)

	splitter := link.NewLineSplitter(0)
	ticker := time.NewTicker(s.virtualRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshVirtual(ctx, true)
		case chunk, ok := <-l.Chunks():
			if !ok {
				if tail := splitter.Flush(); tail != "" {
					s.handleLine(tail)
				}
				if err := l.Err(); err != nil {
					s.logger.Warn("Direct link read failed", zap.Error(err))
				} else {
					s.logger.Info("Direct link closed by device")
				}
				s.linkEnded(l)
				return
			}
			for _, line := range splitter.Feed(chunk) {
				s.handleLine(line)
			}
			s.refreshVirtual(ctx, false)
		}
	}
}

// refreshVirtual 解析为虚拟设备期间重新拉取设备列表，持久化记录出现后立即替换虚拟设备
// 同一时间最多一次拉取；invalidate 为 true 时先失效缓存（周期刷新）
func (s *Session) refreshVirtual(ctx context.Context, invalidate bool) {
	if s.deps.Catalog == nil {
		return
	}
	if _, state, _ := s.resolver.Current(); state != identity.StateResolvedVirtual {
		return
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer s.refreshing.Store(false)

		if invalidate {
			if err := s.deps.Catalog.Invalidate(ctx); err != nil {
				s.logger.Warn("Failed to invalidate device cache", zap.Error(err))
			}
		}
		devices, err := s.deps.Catalog.ListDevices(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Failed to refetch devices for virtual device", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			// 链路已结束
			return
		}
		if dev, changed := s.resolver.SetDevices(devices); changed && dev != nil && !dev.IsVirtual {
			s.logger.Info("Virtual device replaced by persisted record", zap.String("device_id", dev.ID.String()))
		}
	}()
}

func (s *Session) handleLine(line string) {
	now := s.now()
	frame := link.ParseFrame(line, now)

	switch frame.Kind {
	case link.FrameDeviceInfo:
		if dev, changed := s.resolver.Observe(frame.Identifier); changed && dev != nil {
			s.logger.Info("Device resolved",
				zap.String("device_id", dev.ID.String()),
				zap.Bool("is_virtual", dev.IsVirtual),
			)
		}
	case link.FrameMeasurement:
		if frame.Identifier.FirmwareVersion != nil {
			s.resolver.Observe(frame.Identifier)
		}
	}

	s.mu.Lock()
	s.live.Identifier = s.live.Identifier.Merge(frame.Identifier)
	if frame.Measurement != nil {
		s.live.Measurement = frame.Measurement
	}
	s.live.LinkSeenAt = now
	s.mu.Unlock()

	s.merger.AppendLocal(s.deviceKey(), line, models.OriginDevice)
}

// deviceKey 远程日志键：已解析设备的 iccid > serial > 名称，否则使用链路上的标识
func (s *Session) deviceKey() string {
	if dev, _, _ := s.resolver.Current(); dev != nil {
		return models.DeviceKey(dev.PersistedDevice)
	}
	id := s.resolver.Identifier()
	for _, v := range []*string{id.ICCID, id.Serial, id.Name} {
		if v != nil && strings.TrimSpace(*v) != "" {
			return strings.TrimSpace(*v)
		}
	}
	return ""
}

// linkEnded 链路自行结束（设备拔出、读错误）
func (s *Session) linkEnded(l link.Link) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.clearLinkLocked()
	s.mu.Unlock()

	_ = l.Close()
	s.resolver.Disconnect()
	s.merger.ResetLocal()
	s.evaluateRemote()
}

func (s *Session) clearLinkLocked() {
	if s.linkCancel != nil {
		s.linkCancel()
	}
	s.link = nil
	s.linkCancel = nil
	s.linkDone = nil
	s.live = models.LiveSnapshot{}
}

// Disconnect 关闭直连链路并等待读循环退出
func (s *Session) Disconnect() {
	s.mu.Lock()
	l := s.link
	done := s.linkDone
	if l == nil {
		s.mu.Unlock()
		return
	}
	s.clearLinkLocked()
	s.mu.Unlock()

	if err := l.Close(); err != nil {
		s.logger.Warn("Failed to close direct link", zap.Error(err))
	}
	if done != nil {
		<-done
	}
	s.resolver.Disconnect()
	// 读循环已退出，本地日志随链路一起结束
	s.merger.ResetLocal()
	s.evaluateRemote()
	s.logger.Info("Direct link disconnected")
}

// ClearLogs 清空日志视图
func (s *Session) ClearLogs() {
	s.merger.Clear()
	s.evaluateRemote()
}

// Watch 在没有直连链路时远程查看 deviceKey 对应设备
// 只有管理员会真正开始轮询；其他用户静默得到空的远程日志
func (s *Session) Watch(ctx context.Context, deviceKey string) error {
	deviceKey = strings.TrimSpace(deviceKey)

	var watched *models.PersistedDevice
	if deviceKey != "" && s.deps.Catalog != nil {
		devices, err := s.deps.Catalog.ListDevices(ctx)
		if err != nil {
			s.logger.Warn("Failed to load devices for watch", zap.String("device_key", deviceKey), zap.Error(err))
		} else {
			watched = findByKey(devices, deviceKey)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.watchKey != deviceKey {
		// 切换设备时旧的远程状态作废
		s.merger.StopRemote()
	}
	s.watchKey = deviceKey
	s.watched = watched
	s.mu.Unlock()

	s.evaluateRemote()
	return nil
}

// Unwatch 停止远程查看
func (s *Session) Unwatch() {
	s.mu.Lock()
	s.watchKey = ""
	s.watched = nil
	s.mu.Unlock()
	s.merger.StopRemote()
}

// RefreshDevices 重新拉取设备列表并重新解析
func (s *Session) RefreshDevices(ctx context.Context) error {
	if s.deps.Catalog == nil {
		return nil
	}
	devices, err := s.deps.Catalog.ListDevices(ctx)
	if err != nil {
		return err
	}
	s.resolver.SetDevices(devices)

	s.mu.Lock()
	if s.watchKey != "" {
		s.watched = findByKey(devices, s.watchKey)
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) evaluateRemote() {
	s.mu.Lock()
	key := s.watchKey
	direct := s.link != nil
	closed := s.closed
	s.mu.Unlock()

	if closed {
		s.merger.StopRemote()
		return
	}
	s.merger.EvaluateRemote(key, direct, s.viewer.CanViewRemoteLogs())
}

// Snapshot 等同于 SnapshotSince(0)：DeviceChanged 表示会话内解析设备是否变化过
func (s *Session) Snapshot() Snapshot {
	return s.SnapshotSince(0)
}

// SnapshotSince 当前状态；DeviceChanged 表示设备修订号与调用方上次看到的 since 不同
// 每个消费者自己保存 DeviceRevision，互不影响
func (s *Session) SnapshotSince(since uint64) Snapshot {
	now := s.now()
	dev, state, rev := s.resolver.Current()

	s.mu.Lock()
	direct := s.link != nil
	watchKey := s.watchKey
	var live *models.LiveSnapshot
	if direct {
		cp := s.live
		if dev != nil && !dev.IsVirtual {
			cp.DeviceID = dev.ID.String()
		}
		live = &cp
	}
	var persisted *models.PersistedDevice
	switch {
	case dev != nil:
		p := dev.PersistedDevice
		persisted = &p
	case s.watched != nil:
		p := *s.watched
		persisted = &p
	}
	s.mu.Unlock()

	snap := Snapshot{
		SessionID:      s.id,
		State:          state,
		Device:         dev,
		DeviceRevision: rev,
		DeviceChanged:  rev != since,
		Live:           live,
		Logs:           s.merger.View(),
		DirectLink:     direct,
		WatchKey:       watchKey,
	}
	if persisted != nil {
		snap.Fields = arbiter.Arbitrate(*persisted, live, now)
	}
	return snap
}

// RemoteMetrics 远程轮询统计
func (s *Session) RemoteMetrics() logstream.PollerMetrics {
	return s.merger.RemoteMetrics()
}

// Close 断开链路并停止所有后台任务
func (s *Session) Close() {
	s.Disconnect()
	s.mu.Lock()
	s.closed = true
	s.watchKey = ""
	s.mu.Unlock()
	s.merger.StopRemote()
}

// findByKey iccid / serial 规范化相等，或名称相等
func findByKey(devices []models.PersistedDevice, key string) *models.PersistedDevice {
	nk := identity.Normalize(key)
	for i := range devices {
		d := devices[i]
		if identity.SameKey(nk, identity.NormalizePtr(d.ICCID)) || identity.SameKey(nk, identity.NormalizePtr(d.Serial)) {
			return &d
		}
	}
	for i := range devices {
		if strings.TrimSpace(devices[i].Name) == key {
			d := devices[i]
			return &d
		}
	}
	return nil
}
