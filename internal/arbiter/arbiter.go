// Package arbiter 按字段在直连实时数据和持久化数据之间选择取值
package arbiter

import (
	"time"

	"wisefido-devicelink/internal/identity"
	"wisefido-devicelink/internal/models"
)

// Arbitrate 逐字段仲裁
//
// 字段只有在 live 属于同一台设备且该字段在 live 中存在时才取 live，
// 否则整体回落到持久化记录（值和时间戳来自同一来源）。
// iccid 始终来自持久化记录。
func Arbitrate(persisted models.PersistedDevice, live *models.LiveSnapshot, now time.Time) models.Arbitrations {
	same := SameDevice(persisted, live)

	var m *models.Measurement
	if same {
		m = live.Measurement
	}

	out := make(models.Arbitrations, len(models.TrackedFields))

	out[models.FieldBattery] = measuredField(m, measurementBattery, persisted.LastBattery, persisted.UpdatedAt)
	out[models.FieldFlowrate] = measuredField(m, measurementFlowrate, persisted.LastFlowrate, persisted.UpdatedAt)
	out[models.FieldRssi] = measuredField(m, measurementRssi, persisted.LastRssi, persisted.UpdatedAt)

	// 固件版本：测量帧优先，其次 device_info
	var liveFirmware *string
	if same {
		if m != nil && present(m.FirmwareVersion) {
			liveFirmware = m.FirmwareVersion
		} else if present(live.Identifier.FirmwareVersion) {
			liveFirmware = live.Identifier.FirmwareVersion
		}
	}
	if liveFirmware != nil {
		out[models.FieldFirmwareVersion] = liveField(*liveFirmware, live.LinkSeenAt)
	} else {
		out[models.FieldFirmwareVersion] = persistedField(stringValue(persisted.FirmwareVersion), persisted.UpdatedAt)
	}

	// 连接状态和 last_seen 是链路本身的事实，取 now
	if same {
		out[models.FieldStatus] = liveField(models.LiveStatusConnected, now)
		out[models.FieldLastSeen] = liveField(now, now)
	} else {
		out[models.FieldStatus] = persistedField(persisted.Status, persisted.LastSeen)
		out[models.FieldLastSeen] = persistedField(timeValue(persisted.LastSeen), persisted.LastSeen)
	}

	if same && present(live.Identifier.Serial) {
		out[models.FieldSerial] = liveField(*live.Identifier.Serial, live.LinkSeenAt)
	} else {
		out[models.FieldSerial] = persistedField(stringValue(persisted.Serial), persisted.UpdatedAt)
	}

	out[models.FieldICCID] = persistedField(stringValue(persisted.ICCID), persisted.CreatedAt)

	return out
}

// SameDevice live 快照是否属于该持久化设备
// 身份解析已命中该记录，或规范化后的 iccid / serial 相等
func SameDevice(persisted models.PersistedDevice, live *models.LiveSnapshot) bool {
	if live == nil {
		return false
	}
	if live.DeviceID != "" && live.DeviceID == persisted.ID.String() {
		return true
	}
	if identity.SameKey(identity.NormalizePtr(live.Identifier.ICCID), identity.NormalizePtr(persisted.ICCID)) {
		return true
	}
	return identity.SameKey(identity.NormalizePtr(live.Identifier.Serial), identity.NormalizePtr(persisted.Serial))
}

func measurementBattery(m *models.Measurement) *float64  { return m.Battery }
func measurementFlowrate(m *models.Measurement) *float64 { return m.Flowrate }
func measurementRssi(m *models.Measurement) *float64     { return m.Rssi }

func measuredField(m *models.Measurement, pick func(*models.Measurement) *float64, fallback models.NullFloat, ts models.NullTime) models.FieldArbitration {
	if m != nil {
		if v := pick(m); v != nil {
			return liveField(*v, m.MeasuredAt)
		}
	}
	return persistedField(fallback.Value(), ts)
}

func liveField(value any, ts time.Time) models.FieldArbitration {
	t := ts
	return models.FieldArbitration{Value: value, Source: models.SourceLive, Timestamp: &t}
}

func persistedField(value any, ts models.NullTime) models.FieldArbitration {
	return models.FieldArbitration{Value: value, Source: models.SourcePersisted, Timestamp: ts.Ptr()}
}

// stringValue nil 指针转为无类型 nil，避免 JSON 输出 typed nil
func stringValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timeValue(t models.NullTime) any {
	if !t.Valid {
		return nil
	}
	return t.Time
}

func present(s *string) bool {
	return s != nil && *s != ""
}
