package models

import "time"

// Measurement 直连链路上的一帧 usb_stream 测量
type Measurement struct {
	Seq             *int64    `json:"seq,omitempty"`
	Flowrate        *float64  `json:"flowrate,omitempty"`
	Battery         *float64  `json:"battery,omitempty"`
	Rssi            *float64  `json:"rssi,omitempty"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	IntervalMs      *int64    `json:"interval_ms,omitempty"`
	FirmwareVersion *string   `json:"firmware_version,omitempty"`
	MeasuredAt      time.Time `json:"measured_at"`
}

// LiveSnapshot 直连链路的当前事实：累积的标识 + 最后一帧测量
type LiveSnapshot struct {
	// DeviceID 身份解析命中的持久化设备 ID（虚拟设备或未解析时为空）
	DeviceID    string           `json:"device_id,omitempty"`
	Identifier  DeviceIdentifier `json:"identifier"`
	Measurement *Measurement     `json:"measurement,omitempty"`
	// LinkSeenAt 最近一次从链路收到任意数据的时间
	LinkSeenAt time.Time `json:"link_seen_at"`
}

// LiveStatusConnected 直连时的连接状态值
const LiveStatusConnected = "usb_connected"
