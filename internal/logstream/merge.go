// Package logstream 合并直连本地日志和远程轮询日志，输出有界、有序的日志视图
package logstream

import (
	"sort"

	"wisefido-devicelink/internal/models"
)

// MergeBatch 把一批日志合并进缓冲区
// 按 id 去重（后写覆盖），按 (timestamp_ms, id) 升序排序，只保留最新的 limit 条
// 对同一批次重复合并结果不变
func MergeBatch(buffer, batch []models.LogEntry, limit int) []models.LogEntry {
	byID := make(map[string]int, len(buffer)+len(batch))
	merged := make([]models.LogEntry, 0, len(buffer)+len(batch))

	add := func(e models.LogEntry) {
		if i, ok := byID[e.ID]; ok {
			merged[i] = e
			return
		}
		byID[e.ID] = len(merged)
		merged = append(merged, e)
	}
	for _, e := range buffer {
		add(e)
	}
	for _, e := range batch {
		add(e)
	}

	sortEntries(merged)
	return tail(merged, limit)
}

// MaxTimestamp 批次中最大的 timestamp_ms，空批次返回 0
func MaxTimestamp(batch []models.LogEntry) int64 {
	var max int64
	for _, e := range batch {
		if e.TimestampMs > max {
			max = e.TimestampMs
		}
	}
	return max
}

func sortEntries(entries []models.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TimestampMs != entries[j].TimestampMs {
			return entries[i].TimestampMs < entries[j].TimestampMs
		}
		return entries[i].ID < entries[j].ID
	})
}

// tail 保留最后 limit 条，limit <= 0 表示不截断；返回新切片
func tail(entries []models.LogEntry, limit int) []models.LogEntry {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]models.LogEntry, len(entries))
	copy(out, entries)
	return out
}
