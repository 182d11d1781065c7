package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wisefido-devicelink/internal/link"
	"wisefido-devicelink/internal/logstream"
	"wisefido-devicelink/internal/models"
	"wisefido-devicelink/internal/session"

	"go.uber.org/zap"
)

// SessionHandler 会话接口
type SessionHandler struct {
	manager *session.Manager
	dialer  link.Dialer
	auth    *Authenticator
	logger  *zap.Logger

	// dialTimeout 打开直连链路的超时
	dialTimeout time.Duration
	// pushInterval websocket 推送间隔
	pushInterval time.Duration
}

// NewSessionHandler dialer 为 nil 时 connect 返回 503
func NewSessionHandler(manager *session.Manager, dialer link.Dialer, auth *Authenticator, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		manager:      manager,
		dialer:       dialer,
		auth:         auth,
		logger:       logger,
		dialTimeout:  10 * time.Second,
		pushInterval: time.Second,
	}
}

type deviceKeyRequest struct {
	DeviceKey string `json:"device_key"`
}

// logLine 带分类的日志条目
type logLine struct {
	models.LogEntry
	Category logstream.Category `json:"category"`
}

type logView struct {
	Entries             []logLine `json:"entries"`
	LastSeenTimestampMs int64     `json:"last_seen_timestamp_ms"`
	IsStreamingRemote   bool      `json:"is_streaming_remote"`
}

// snapshotResponse Logs 覆盖 session.Snapshot 中的同名字段
type snapshotResponse struct {
	session.Snapshot
	Logs logView `json:"logs"`
}

func newSnapshotResponse(snap session.Snapshot) snapshotResponse {
	lines := make([]logLine, 0, len(snap.Logs.Entries))
	for _, e := range snap.Logs.Entries {
		lines = append(lines, logLine{LogEntry: e, Category: logstream.Categorize(e.Line)})
	}
	return snapshotResponse{
		Snapshot: snap,
		Logs: logView{
			Entries:             lines,
			LastSeenTimestampMs: snap.Logs.LastSeenTimestampMs,
			IsStreamingRemote:   snap.Logs.IsStreamingRemote,
		},
	}
}

// Create POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	s := h.manager.Create(viewer)
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"session_id": s.ID(),
		"user_id":    viewer.UserID,
		"role":       viewer.Role,
	}))
}

// Get GET /sessions/{id}?since_revision=N
// device_changed 相对于调用方上次拿到的 device_revision；缺省时相对会话开始
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}
	var since uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("since_revision")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid since_revision"))
			return
		}
		since = v
	}
	writeJSON(w, http.StatusOK, Ok(newSnapshotResponse(s.SnapshotSince(since))))
}

// Delete DELETE /sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.session(w, r, id); !ok {
		return
	}
	if err := h.manager.Close(id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// Connect POST /sessions/{id}/connect
func (h *SessionHandler) Connect(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}
	if h.dialer == nil {
		writeJSON(w, http.StatusServiceUnavailable, FailWithCode(ResultLinkUnavailable, "direct link transport not configured"))
		return
	}

	var req deviceKeyRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	req.DeviceKey = strings.TrimSpace(req.DeviceKey)
	if req.DeviceKey == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device_key is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.dialTimeout)
	defer cancel()
	l, err := h.dialer.Dial(ctx, req.DeviceKey)
	if err != nil {
		h.logger.Warn("Failed to open direct link",
			zap.String("session_id", id),
			zap.String("device_key", req.DeviceKey),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, FailWithCode(ResultLinkDialFailed, fmt.Sprintf("failed to open link: %v", err)))
		return
	}

	if _, err := s.Connect(ctx, l); err != nil {
		_ = l.Close()
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(newSnapshotResponse(s.Snapshot())))
}

// Disconnect POST /sessions/{id}/disconnect
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}
	s.Disconnect()
	writeJSON(w, http.StatusOK, Ok(newSnapshotResponse(s.Snapshot())))
}

// ClearLogs POST /sessions/{id}/clear-logs
func (h *SessionHandler) ClearLogs(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}
	s.ClearLogs()
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// Watch POST /sessions/{id}/watch
func (h *SessionHandler) Watch(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}
	var req deviceKeyRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if strings.TrimSpace(req.DeviceKey) == "" {
		writeJSON(w, http.StatusBadRequest, Fail("device_key is required"))
		return
	}
	if err := s.Watch(r.Context(), req.DeviceKey); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(newSnapshotResponse(s.Snapshot())))
}

// Unwatch POST /sessions/{id}/unwatch
func (h *SessionHandler) Unwatch(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}
	s.Unwatch()
	writeJSON(w, http.StatusOK, Ok[any](nil))
}

// Refresh POST /sessions/{id}/refresh 重新拉取设备列表
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}
	if err := s.RefreshDevices(r.Context()); err != nil {
		h.logger.Warn("Failed to refresh devices", zap.String("session_id", id), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, Fail("failed to refresh devices"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(newSnapshotResponse(s.Snapshot())))
}

// ExportLogs GET /sessions/{id}/logs/export
func (h *SessionHandler) ExportLogs(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.session(w, r, id)
	if !ok {
		return
	}
	snap := s.Snapshot()
	data, err := GenerateLogsExport(snap.Logs.Entries)
	if err != nil {
		h.logger.Error("Failed to generate logs export", zap.String("session_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=usb-logs-"+time.Now().Format("20060102-150405")+".xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// viewer 解析用户，失败时写 401
func (h *SessionHandler) viewer(w http.ResponseWriter, r *http.Request) (session.Viewer, bool) {
	v, err := h.auth.Viewer(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, TokenExpired("invalid or expired token"))
		return session.Viewer{}, false
	}
	return v, true
}

// session 查找会话；其他用户的会话视为不存在
func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request, id string) (*session.Session, bool) {
	v, ok := h.viewer(w, r)
	if !ok {
		return nil, false
	}
	s, err := h.manager.Get(id)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	if s.Viewer().UserID != v.UserID {
		h.writeError(w, session.ErrSessionNotFound)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionClosed):
		writeJSON(w, http.StatusNotFound, FailWithCode(ResultSessionNotFound, err.Error()))
	case errors.Is(err, session.ErrAlreadyConnected):
		writeJSON(w, http.StatusConflict, FailWithCode(ResultLinkBusy, err.Error()))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusGatewayTimeout, Fail(err.Error()))
	default:
		h.logger.Error("Session request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail(err.Error()))
	}
}
