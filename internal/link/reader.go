package link

import (
	"errors"
	"io"
	"sync"
)

const readBufferSize = 4096

// ReaderLink 基于 io.ReadCloser 的链路（例如已打开的串口设备文件）
// Close 关闭底层 reader，使挂起的 Read 返回，读循环随之退出
type ReaderLink struct {
	rc   io.ReadCloser
	ch   chan []byte
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewReaderLink 创建链路并启动读循环
func NewReaderLink(rc io.ReadCloser) *ReaderLink {
	l := &ReaderLink{
		rc:   rc,
		ch:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *ReaderLink) readLoop() {
	defer close(l.ch)
	buf := make([]byte, readBufferSize)
	for {
		n, err := l.rc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case l.ch <- chunk:
			case <-l.done:
				return
			}
		}
		if err != nil {
			select {
			case <-l.done:
				// 主动关闭导致的读错误不算链路故障
			default:
				if !errors.Is(err, io.EOF) {
					l.mu.Lock()
					l.err = err
					l.mu.Unlock()
				}
			}
			return
		}
	}
}

func (l *ReaderLink) Chunks() <-chan []byte {
	return l.ch
}

func (l *ReaderLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *ReaderLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.rc.Close()
	})
	return err
}
