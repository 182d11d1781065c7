package identity

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"wisefido-devicelink/internal/models"

	"go.uber.org/zap"
)

// State 每个连接会话的解析状态
type State string

const (
	StateDisconnected        State = "disconnected"
	StateAwaitingIdentifiers State = "awaiting_identifiers"
	StateResolvedPersisted   State = "resolved_persisted"
	StateResolvedVirtual     State = "resolved_virtual"
)

// DeviceCatalog 持久化设备列表（带缓存失效）
type DeviceCatalog interface {
	Invalidate(ctx context.Context) error
	ListDevices(ctx context.Context) ([]models.PersistedDevice, error)
}

// Options 解析器选项
type Options struct {
	// SettleDelay 连接后失效缓存到首次拉取之间的等待
	SettleDelay time.Duration
	// RequireBothKeys 两侧都有 iccid 和 serial 时要求两者一致
	RequireBothKeys bool
	Now             func() time.Time
}

// Resolver 直连设备身份解析器
//
// 状态：Disconnected → AwaitingIdentifiers → Resolved(Persisted) | Resolved(Virtual) → Disconnected
// 每次收到新的标识片段或新的持久化列表时，基于累积标识重新计算，
// 因此最终结果与不冲突片段的到达顺序无关。
type Resolver struct {
	catalog DeviceCatalog
	opts    Options
	logger  *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	identifier models.DeviceIdentifier
	devices    []models.PersistedDevice
	current    *models.ResolvedDevice
	revision   uint64
}

// NewResolver 创建解析器
func NewResolver(catalog DeviceCatalog, opts Options, logger *zap.Logger) *Resolver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		catalog: catalog,
		opts:    opts,
		logger:  logger,
		state:   StateDisconnected,
	}
}

// Connect 进入 AwaitingIdentifiers，并触发一次"失效 + 等待 + 重新拉取"
// 返回的 channel 在这次拉取结束（或被取消）后关闭
func (r *Resolver) Connect(ctx context.Context) <-chan struct{} {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.state = StateAwaitingIdentifiers
	r.identifier = models.DeviceIdentifier{}
	if r.current != nil {
		r.current = nil
		r.revision++
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.refresh(ctx, gen)
	}()
	return done
}

func (r *Resolver) refresh(ctx context.Context, gen uint64) {
	if r.catalog == nil {
		return
	}

	if err := r.catalog.Invalidate(ctx); err != nil {
		r.logger.Warn("Failed to invalidate device cache", zap.Error(err))
	}

	// 给持久化层一点时间重新填充缓存
	if r.opts.SettleDelay > 0 {
		timer := time.NewTimer(r.opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	devices, err := r.catalog.ListDevices(ctx)
	if err != nil {
		r.logger.Warn("Failed to refetch device list after connect", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || r.state == StateDisconnected {
		// 会话已断开或重连，丢弃过期结果
		return
	}
	r.devices = devices
	if r.evaluateLocked() {
		r.logger.Debug("Device resolved after refetch",
			zap.String("device_id", r.current.ID.String()),
			zap.Bool("is_virtual", r.current.IsVirtual),
		)
	}
}

// SetDevices 用新的持久化列表重新计算（外部刷新设备列表时调用）
func (r *Resolver) SetDevices(devices []models.PersistedDevice) (*models.ResolvedDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = devices
	if r.state == StateDisconnected {
		return nil, false
	}
	changed := r.evaluateLocked()
	return r.currentCopyLocked(), changed
}

// Observe 合并一个新的标识片段并重新解析
func (r *Resolver) Observe(fragment models.DeviceIdentifier) (*models.ResolvedDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDisconnected {
		return nil, false
	}
	r.identifier = r.identifier.Merge(fragment)
	changed := r.evaluateLocked()
	return r.currentCopyLocked(), changed
}

// Disconnect 回到 Disconnected 并清空已解析设备
func (r *Resolver) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.state = StateDisconnected
	r.identifier = models.DeviceIdentifier{}
	if r.current != nil {
		r.current = nil
		r.revision++
	}
}

// Current 当前解析结果、状态和修订号（每次设备变化修订号递增）
func (r *Resolver) Current() (*models.ResolvedDevice, State, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentCopyLocked(), r.state, r.revision
}

// Identifier 当前累积的标识
func (r *Resolver) Identifier() models.DeviceIdentifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identifier
}

// evaluateLocked 基于累积标识和已知列表重新计算，返回设备是否变化
func (r *Resolver) evaluateLocked() bool {
	nIccid := NormalizePtr(r.identifier.ICCID)
	nSerial := NormalizePtr(r.identifier.Serial)

	// 没有任何标识时不合成设备
	if nIccid == "" && nSerial == "" {
		return false
	}

	if match, ok := r.findMatchLocked(nIccid, nSerial); ok {
		r.state = StateResolvedPersisted
		if r.current != nil && !r.current.IsVirtual && reflect.DeepEqual(r.current.PersistedDevice, match) {
			return false
		}
		r.setCurrentLocked(&models.ResolvedDevice{PersistedDevice: match, IsVirtual: false})
		return true
	}

	// 已匹配的持久化设备在标识仍然吻合时保持（列表刷新暂时缺少它）
	if r.current != nil && !r.current.IsVirtual {
		if SameKey(nIccid, NormalizePtr(r.current.ICCID)) || SameKey(nSerial, NormalizePtr(r.current.Serial)) {
			return false
		}
	}

	// 虚拟设备身份未变化时不重建，避免每个遥测帧都产生抖动
	if r.current != nil && r.current.IsVirtual &&
		NormalizePtr(r.current.ICCID) == nIccid && NormalizePtr(r.current.Serial) == nSerial {
		return false
	}

	r.state = StateResolvedVirtual
	r.setCurrentLocked(r.synthesizeLocked())
	return true
}

// findMatchLocked first-match-wins：iccid 或 serial 任一相等即命中
func (r *Resolver) findMatchLocked(nIccid, nSerial NormalizedID) (models.PersistedDevice, bool) {
	for _, d := range r.devices {
		dIccid := NormalizePtr(d.ICCID)
		dSerial := NormalizePtr(d.Serial)

		iccidHit := SameKey(nIccid, dIccid)
		serialHit := SameKey(nSerial, dSerial)
		if !iccidHit && !serialHit {
			continue
		}
		if r.opts.RequireBothKeys {
			if iccidHit && nSerial != "" && dSerial != "" && nSerial != dSerial {
				continue
			}
			if serialHit && nIccid != "" && dIccid != "" && nIccid != dIccid {
				continue
			}
		}
		return d, true
	}
	return models.PersistedDevice{}, false
}

func (r *Resolver) synthesizeLocked() *models.ResolvedDevice {
	now := r.opts.Now()
	d := &models.ResolvedDevice{
		PersistedDevice: models.PersistedDevice{
			ID:              models.FlexString(models.VirtualIDPrefix + strconv.FormatInt(now.UnixMilli(), 10)),
			ICCID:           trimmedOrNil(r.identifier.ICCID),
			Serial:          trimmedOrNil(r.identifier.Serial),
			Name:            VirtualName(r.identifier),
			FirmwareVersion: trimmedOrNil(r.identifier.FirmwareVersion),
			Status:          "active",
			LastSeen:        models.NewNullTime(now),
			UpdatedAt:       models.NewNullTime(now),
			CreatedAt:       models.NewNullTime(now),
		},
		IsVirtual: true,
	}
	return d
}

func (r *Resolver) setCurrentLocked(d *models.ResolvedDevice) {
	r.current = d
	r.revision++
}

func (r *Resolver) currentCopyLocked() *models.ResolvedDevice {
	if r.current == nil {
		return nil
	}
	cp := *r.current
	return &cp
}

// VirtualName 虚拟设备显示名：名称 → USB-<iccid 后4位> → USB-<serial 后4位> → USB-????
func VirtualName(id models.DeviceIdentifier) string {
	if v := trimmedOrNil(id.Name); v != nil {
		return *v
	}
	if v := trimmedOrNil(id.ICCID); v != nil {
		return "USB-" + lastRunes(*v, 4)
	}
	if v := trimmedOrNil(id.Serial); v != nil {
		return "USB-" + lastRunes(*v, 4)
	}
	return "USB-????"
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
