package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager 管理所有活动会话
type Manager struct {
	deps   Dependencies
	opts   Options
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器
func NewManager(deps Dependencies, opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create 为 viewer 创建新会话
func (m *Manager) Create(viewer Viewer) *Session {
	id := uuid.NewString()
	s := newSession(id, viewer, m.deps, m.opts, m.logger)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("user_id", viewer.UserID),
		zap.String("role", viewer.Role),
	)
	return s
}

// Get 查找会话
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close 关闭并移除会话
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	m.logger.Info("Session closed", zap.String("session_id", id))
	return nil
}

// CloseAll 关闭所有会话（服务停止时）
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		m.logger.Info("All sessions closed", zap.Int("count", len(sessions)))
	}
}

// Count 活动会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
