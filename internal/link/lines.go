package link

import (
	"bytes"
	"strings"
)

// DefaultMaxLineBytes 未结束行的最大长度，超过后强制输出
const DefaultMaxLineBytes = 8192

// LineSplitter 把任意切分的数据块还原为完整行
// 最后一段不完整的内容留到下一个数据块
type LineSplitter struct {
	tail    []byte
	maxTail int
}

// NewLineSplitter maxTail <= 0 时使用 DefaultMaxLineBytes
func NewLineSplitter(maxTail int) *LineSplitter {
	if maxTail <= 0 {
		maxTail = DefaultMaxLineBytes
	}
	return &LineSplitter{maxTail: maxTail}
}

// Feed 输入一个数据块，返回其中完整的非空行（已去除首尾空白）
func (s *LineSplitter) Feed(chunk []byte) []string {
	s.tail = append(s.tail, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(s.tail, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(s.tail[:i])); line != "" {
			lines = append(lines, line)
		}
		s.tail = s.tail[i+1:]
	}

	// 设备不发送换行时避免无限增长
	if len(s.tail) > s.maxTail {
		if line := strings.TrimSpace(string(s.tail)); line != "" {
			lines = append(lines, line)
		}
		s.tail = nil
	}

	if len(s.tail) == 0 {
		s.tail = nil
	} else {
		s.tail = append([]byte(nil), s.tail...)
	}
	return lines
}

// Flush 返回并清空剩余的不完整行
func (s *LineSplitter) Flush() string {
	line := strings.TrimSpace(string(s.tail))
	s.tail = nil
	return line
}
