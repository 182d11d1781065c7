package models

// LogSource 日志来源通道
type LogSource string

const (
	LogSourceLocal  LogSource = "local"
	LogSourceRemote LogSource = "remote"
)

// LogOrigin 日志产生方（与 usb_logs.log_source 一致）
const (
	OriginDevice    = "device"
	OriginDashboard = "dashboard"
)

// RemoteIDPrefix 远程日志 ID 命名空间，避免与本地 ID 冲突
const RemoteIDPrefix = "remote-"

// LocalIDPrefix 本地日志 ID 前缀
const LocalIDPrefix = "local-"

// LogEntry 一条日志
type LogEntry struct {
	ID          string    `json:"id"`
	TimestampMs int64     `json:"timestamp_ms"`
	Line        string    `json:"line"`
	Source      LogSource `json:"source"`
	Origin      string    `json:"origin,omitempty"`
}

// MergedLogView 对外可见的有序日志视图
type MergedLogView struct {
	Entries             []LogEntry `json:"entries"`
	LastSeenTimestampMs int64      `json:"last_seen_timestamp_ms"`
	IsStreamingRemote   bool       `json:"is_streaming_remote"`
}

// UsbLogRecord usb_logs 表的一行（POST /usb-logs 的单项）
type UsbLogRecord struct {
	DeviceIdentifier string `json:"device_identifier"`
	DeviceName       string `json:"device_name,omitempty"`
	LogLine          string `json:"log_line"`
	LogSource        string `json:"log_source"`
	TimestampMs      int64  `json:"timestamp_ms"`
}
