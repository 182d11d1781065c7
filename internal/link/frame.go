package link

import (
	"encoding/json"
	"strings"
	"time"

	"wisefido-devicelink/internal/models"
)

// FrameKind 固件输出行的类型
type FrameKind int

const (
	FramePlain FrameKind = iota
	FrameDeviceInfo
	FrameMeasurement
)

// Frame 一行解析结果
type Frame struct {
	Kind        FrameKind
	Identifier  models.DeviceIdentifier
	Measurement *models.Measurement
}

type rawFrame struct {
	Type string `json:"type"`
	Mode string `json:"mode"`

	// device_info
	ICCID      string `json:"iccid"`
	Serial     string `json:"serial"`
	DeviceName string `json:"device_name"`

	// usb_stream
	Seq            *float64 `json:"seq"`
	FlowLpm        *float64 `json:"flow_lpm"`
	Flowrate       *float64 `json:"flowrate"`
	Flow           *float64 `json:"flow"`
	BatteryPercent *float64 `json:"battery_percent"`
	Battery        *float64 `json:"battery"`
	Rssi           *float64 `json:"rssi"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	IntervalMs     *float64 `json:"interval_ms"`
	Interval       *float64 `json:"interval"`

	FirmwareVersion string `json:"firmware_version"`
}

// ParseFrame 解析一行固件输出
// 只识别以 '{' 开头的 device_info / usb_stream JSON，其余（包括 JSON 损坏）都是普通日志
func ParseFrame(line string, now time.Time) Frame {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Frame{Kind: FramePlain}
	}

	var raw rawFrame
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Frame{Kind: FramePlain}
	}

	switch {
	case raw.Type == "device_info":
		return Frame{
			Kind: FrameDeviceInfo,
			Identifier: models.DeviceIdentifier{
				ICCID:           nonEmpty(raw.ICCID),
				Serial:          nonEmpty(raw.Serial),
				Name:            nonEmpty(raw.DeviceName),
				FirmwareVersion: nonEmpty(raw.FirmwareVersion),
			},
		}
	case raw.Mode == "usb_stream":
		m := &models.Measurement{
			Seq:             toInt(raw.Seq),
			Flowrate:        firstOf(raw.FlowLpm, raw.Flowrate, raw.Flow),
			Battery:         firstOf(raw.BatteryPercent, raw.Battery),
			Rssi:            raw.Rssi,
			Latitude:        raw.Latitude,
			Longitude:       raw.Longitude,
			IntervalMs:      toInt(firstOf(raw.IntervalMs, raw.Interval)),
			FirmwareVersion: nonEmpty(raw.FirmwareVersion),
			MeasuredAt:      now,
		}
		return Frame{
			Kind:        FrameMeasurement,
			Identifier:  models.DeviceIdentifier{FirmwareVersion: m.FirmwareVersion},
			Measurement: m,
		}
	}
	return Frame{Kind: FramePlain}
}

func firstOf(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func toInt(v *float64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
