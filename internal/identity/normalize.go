// Package identity 设备标识规范化与直连设备身份解析
package identity

import "strings"

// NormalizedID 规范化后的标识，仅用于相等比较，不用于展示
// 空字符串表示"无标识"
type NormalizedID string

// Normalize 规范化 iccid / serial：去空白、小写，只保留 [a-z0-9]
// 空白或不含任何有效字符的输入返回 ""，从不报错
func Normalize(raw string) NormalizedID {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return NormalizedID(b.String())
}

// NormalizePtr nil 安全版本
func NormalizePtr(raw *string) NormalizedID {
	if raw == nil {
		return ""
	}
	return Normalize(*raw)
}

// SameKey 两个规范化标识都存在且相等
func SameKey(a, b NormalizedID) bool {
	return a != "" && a == b
}
