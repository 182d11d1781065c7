package models

import "strings"

// DeviceIdentifier 直连链路上观察到的设备标识（可能只包含部分字段）
// nil 表示"未出现"，空字符串表示"出现但为空"
type DeviceIdentifier struct {
	ICCID           *string `json:"iccid,omitempty"`
	Serial          *string `json:"serial,omitempty"`
	Name            *string `json:"name,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`
}

// Merge 合并一个新的标识片段：非空字段覆盖，空字段保留已有值
func (d DeviceIdentifier) Merge(fragment DeviceIdentifier) DeviceIdentifier {
	out := d
	if present(fragment.ICCID) {
		out.ICCID = fragment.ICCID
	}
	if present(fragment.Serial) {
		out.Serial = fragment.Serial
	}
	if present(fragment.Name) {
		out.Name = fragment.Name
	}
	if present(fragment.FirmwareVersion) {
		out.FirmwareVersion = fragment.FirmwareVersion
	}
	return out
}

// IsEmpty 四个字段均未出现
func (d DeviceIdentifier) IsEmpty() bool {
	return !present(d.ICCID) && !present(d.Serial) && !present(d.Name) && !present(d.FirmwareVersion)
}

// PersistedDevice 持久化服务中的设备记录（对应 GET /devices 的单项）
// 数值字段在 PHP/PDO 输出中可能是字符串，使用 Null* 类型兼容
type PersistedDevice struct {
	ID              FlexString `json:"id"`
	ICCID           *string    `json:"sim_iccid"`
	Serial          *string    `json:"device_serial"`
	Name            string     `json:"device_name"`
	FirmwareVersion *string    `json:"firmware_version"`
	Status          string     `json:"status"`
	LastBattery     NullFloat  `json:"last_battery"`
	LastFlowrate    NullFloat  `json:"last_flowrate"`
	LastRssi        NullFloat  `json:"last_rssi"`
	LastSeen        NullTime   `json:"last_seen"`
	UpdatedAt       NullTime   `json:"updated_at"`
	CreatedAt       NullTime   `json:"created_at"`
}

// ResolvedDevice 身份解析结果：匹配到的持久化设备，或本地合成的虚拟设备
type ResolvedDevice struct {
	PersistedDevice
	IsVirtual bool `json:"is_virtual"`
}

// VirtualIDPrefix 虚拟设备 ID 前缀
const VirtualIDPrefix = "virtual:"

// DeviceKey 远程日志查询使用的设备键：iccid > serial > 名称
func DeviceKey(d PersistedDevice) string {
	if d.ICCID != nil && strings.TrimSpace(*d.ICCID) != "" {
		return strings.TrimSpace(*d.ICCID)
	}
	if d.Serial != nil && strings.TrimSpace(*d.Serial) != "" {
		return strings.TrimSpace(*d.Serial)
	}
	return strings.TrimSpace(d.Name)
}

// StringPtr 返回字符串指针（测试和构造使用）
func StringPtr(s string) *string {
	return &s
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
