package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// SessionsPrefix 会话接口前缀
const SessionsPrefix = "/devicelink/api/v1/sessions"

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoutes 健康检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "ok"}))
	})
}

// RegisterSessionRoutes 注册会话路由
//
//	POST   /devicelink/api/v1/sessions
//	GET    /devicelink/api/v1/sessions/{id}
//	DELETE /devicelink/api/v1/sessions/{id}
//	POST   /devicelink/api/v1/sessions/{id}/{connect|disconnect|clear-logs|watch|unwatch|refresh}
//	GET    /devicelink/api/v1/sessions/{id}/logs/export
//	GET    /devicelink/api/v1/sessions/{id}/ws
func (r *Router) RegisterSessionRoutes(h *SessionHandler) {
	r.Handle(SessionsPrefix, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Create(w, req)
	})

	r.Handle(SessionsPrefix+"/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, SessionsPrefix+"/")
		id, action, _ := strings.Cut(rest, "/")
		if id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		method := http.MethodPost
		switch action {
		case "":
			switch req.Method {
			case http.MethodGet:
				h.Get(w, req, id)
			case http.MethodDelete:
				h.Delete(w, req, id)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
			return
		case "logs/export", "ws":
			method = http.MethodGet
		}
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch action {
		case "connect":
			h.Connect(w, req, id)
		case "disconnect":
			h.Disconnect(w, req, id)
		case "clear-logs":
			h.ClearLogs(w, req, id)
		case "watch":
			h.Watch(w, req, id)
		case "unwatch":
			h.Unwatch(w, req, id)
		case "refresh":
			h.Refresh(w, req, id)
		case "logs/export":
			h.ExportLogs(w, req, id)
		case "ws":
			h.Stream(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}
