package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var jsonNull = []byte("null")

// FlexString 兼容 JSON 字符串和数字（持久化服务的 id 可能是 SERIAL 整数）
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, jsonNull) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// NullFloat 可空浮点，JSON 中的数字字符串（PDO 常见）同样接受
// 无法解析的值降级为 Valid=false，不返回错误
type NullFloat struct {
	Float64 float64
	Valid   bool
}

func NewNullFloat(v float64) NullFloat {
	return NullFloat{Float64: v, Valid: true}
}

func (f *NullFloat) UnmarshalJSON(data []byte) error {
	*f = NullFloat{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	*f = NullFloat{Float64: v, Valid: true}
	return nil
}

func (f NullFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return jsonNull, nil
	}
	return json.Marshal(f.Float64)
}

// Value 返回 nil 或 float64（仲裁结果使用）
func (f NullFloat) Value() any {
	if !f.Valid {
		return nil
	}
	return f.Float64
}

// NullTime 可空时间，接受 RFC3339、PostgreSQL 文本格式和毫秒时间戳
type NullTime struct {
	Time  time.Time
	Valid bool
}

func NewNullTime(t time.Time) NullTime {
	return NullTime{Time: t, Valid: true}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTime 按已知格式解析时间字符串
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (t *NullTime) UnmarshalJSON(data []byte) error {
	*t = NullTime{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if parsed, ok := ParseTime(s); ok {
			*t = NullTime{Time: parsed, Valid: true}
		}
		return nil
	}
	// 数字：毫秒时间戳
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil
	}
	*t = NullTime{Time: time.UnixMilli(int64(ms)).UTC(), Valid: true}
	return nil
}

func (t NullTime) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return jsonNull, nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// Ptr 返回 nil 或时间指针
func (t NullTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
