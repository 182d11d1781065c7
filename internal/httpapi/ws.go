package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 由网关做来源校验
	},
}

// wsMessage 推送消息
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Stream GET /sessions/{id}/ws 按 pushInterval 推送会话快照，直到客户端断开
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	// 读循环只用于感知断开和响应 ping
	closed := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(closed)
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if t, _ := msg["type"].(string); t == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	write := func(m wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(m); err != nil {
			h.logger.Debug("WebSocket write failed", zap.String("session_id", id), zap.Error(err))
			return false
		}
		return true
	}

	// 每个连接各自记录看到的设备修订号
	var seen uint64
	push := func() bool {
		snap := s.SnapshotSince(seen)
		seen = snap.DeviceRevision
		return write(wsMessage{Type: "snapshot", Data: newSnapshotResponse(snap)})
	}
	if !push() {
		return
	}

	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-pings:
			if !write(wsMessage{Type: "pong"}) {
				return
			}
		case <-ticker.C:
			if _, err := h.manager.Get(id); err != nil {
				_ = write(wsMessage{Type: "closed"})
				return
			}
			if !push() {
				return
			}
		}
	}
}
