// Package link 直连设备链路：字节流抽象、按行切分和固件 JSON 帧解析
package link

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 链路已关闭
var ErrClosed = errors.New("link closed")

// Link 直连链路
// Chunks 在链路结束（对端关闭、读错误或 Close）后关闭；Err 返回结束原因，正常结束为 nil
type Link interface {
	Chunks() <-chan []byte
	Err() error
	Close() error
}

// Dialer 按设备键打开链路
type Dialer interface {
	Dial(ctx context.Context, deviceKey string) (Link, error)
}

// ChanLink 进程内链路（测试和内部桥接使用）
type ChanLink struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
	err    error
}

// NewChanLink 创建带缓冲的进程内链路
func NewChanLink(buffer int) *ChanLink {
	return &ChanLink{ch: make(chan []byte, buffer)}
}

// Push 写入一个数据块，缓冲满或已关闭时返回 false
func (l *ChanLink) Push(chunk []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.ch <- chunk:
		return true
	default:
		return false
	}
}

// Fail 以错误结束链路
func (l *ChanLink) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.err = err
	l.closed = true
	close(l.ch)
}

func (l *ChanLink) Chunks() <-chan []byte {
	return l.ch
}

func (l *ChanLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *ChanLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.ch)
	return nil
}
