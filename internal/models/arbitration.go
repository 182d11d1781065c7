package models

import "time"

// Source 数据来源
type Source string

const (
	SourceLive      Source = "live"
	SourcePersisted Source = "persisted"
)

// FieldName 仲裁字段名
type FieldName string

const (
	FieldBattery         FieldName = "battery"
	FieldFlowrate        FieldName = "flowrate"
	FieldRssi            FieldName = "rssi"
	FieldFirmwareVersion FieldName = "firmware_version"
	FieldStatus          FieldName = "status"
	FieldLastSeen        FieldName = "last_seen"
	FieldSerial          FieldName = "serial"
	FieldICCID           FieldName = "iccid"
)

// TrackedFields 全部仲裁字段（固定顺序）
var TrackedFields = []FieldName{
	FieldBattery,
	FieldFlowrate,
	FieldRssi,
	FieldFirmwareVersion,
	FieldStatus,
	FieldLastSeen,
	FieldSerial,
	FieldICCID,
}

// FieldArbitration 单个字段的取值及其来源
// Timestamp 为 nil 表示持久化记录本身缺少对应时间
type FieldArbitration struct {
	Value     any        `json:"value"`
	Source    Source     `json:"source"`
	Timestamp *time.Time `json:"timestamp"`
}

// Arbitrations 每个字段的仲裁结果
type Arbitrations map[FieldName]FieldArbitration
