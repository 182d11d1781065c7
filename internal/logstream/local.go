package logstream

import (
	"sync"
	"time"

	"wisefido-devicelink/internal/models"

	"github.com/google/uuid"
)

// LocalBuffer 直连链路日志（单一生产者，按到达顺序）
type LocalBuffer struct {
	mu      sync.RWMutex
	entries []models.LogEntry
	max     int
	now     func() time.Time
}

// NewLocalBuffer 创建本地缓冲区，超过 max 条时丢弃最旧的
func NewLocalBuffer(max int, now func() time.Time) *LocalBuffer {
	if now == nil {
		now = time.Now
	}
	return &LocalBuffer{max: max, now: now}
}

// Append 追加一行，返回生成的日志条目
func (b *LocalBuffer) Append(line, origin string) models.LogEntry {
	entry := models.LogEntry{
		ID:          models.LocalIDPrefix + uuid.NewString(),
		TimestampMs: b.now().UnixMilli(),
		Line:        line,
		Source:      models.LogSourceLocal,
		Origin:      origin,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	if b.max > 0 && len(b.entries) > b.max {
		b.entries = append([]models.LogEntry(nil), b.entries[len(b.entries)-b.max:]...)
	}
	return entry
}

// Entries 当前条目副本
func (b *LocalBuffer) Entries() []models.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return tail(b.entries, 0)
}

// Len 条目数
func (b *LocalBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Clear 清空
func (b *LocalBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}
