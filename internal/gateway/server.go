// Package gateway is the HTTP and websocket surface: login, downloads,
// project search, uploads, preview and editor proxies, and the chat
// websocket endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haozheli/docchat/internal/config"
	"github.com/haozheli/docchat/internal/fileservice"
	"github.com/haozheli/docchat/internal/index"
	"github.com/haozheli/docchat/internal/providers"
	"github.com/haozheli/docchat/internal/sessions"
	"github.com/haozheli/docchat/internal/tools"
)

// Deps are the services the gateway serves.
type Deps struct {
	Config   *config.Config
	Auth     *sessions.TokenAuth
	Sessions *sessions.Manager
	Index    *index.Service
	Files    map[index.DocType]*fileservice.Service
	Registry *tools.Registry
	Provider providers.Provider
}

// Server owns the HTTP listener and websocket upgrader.
type Server struct {
	deps Deps
	log  *slog.Logger

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
}

func NewServer(deps Deps) *Server {
	s := &Server{
		deps: deps,
		log:  slog.With("component", "gateway"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return s
}

// BuildMux registers every route and caches the mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.Handle("GET /api/user/status", s.deps.Auth.RequireActiveSession(http.HandlerFunc(s.handleUserStatus)))
	mux.Handle("/api/projects/search", s.deps.Auth.RequireActiveSession(http.HandlerFunc(s.handleProjectSearch)))

	mux.HandleFunc("GET /download/{token}/{filename...}", s.handleDownload)
	mux.HandleFunc("GET /spec_images/{name}", s.handleSpecImage)

	mux.Handle("/upload-standards", s.deps.Auth.RequireActiveSession(http.HandlerFunc(s.handleUploadStandards)))
	mux.Handle("/upload-project", s.deps.Auth.RequireActiveSession(http.HandlerFunc(s.handleUploadProject)))
	mux.Handle("/upload-files", s.deps.Auth.RequireActiveSession(http.HandlerFunc(s.handleUploadFiles)))

	mux.HandleFunc("GET /kkfileview/onlinePreview", s.handleOnlinePreview)
	mux.HandleFunc("/kkfileview/", s.handleViewerProxy)

	mux.Handle("GET /onlyoffice/editor", s.deps.Auth.RequireActiveSession(http.HandlerFunc(s.handleEditor)))
	mux.HandleFunc("POST /onlyoffice/callback", s.handleEditorCallback)

	mux.HandleFunc("GET /ws/v2/chat", s.handleChatWS)
	mux.HandleFunc("GET /ws_chat_stream", s.handleStreamProxyWS)

	if s.deps.Config.Debug.SessionStates {
		mux.HandleFunc("GET /debug/session-states", s.handleSessionStates)
	}

	s.mux = mux
	return mux
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.middleware(s.BuildMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// middleware applies CORS headers and the legacy static-image rewrite.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Old front-end builds request spec images under /static/images/.
		if name, ok := strings.CutPrefix(r.URL.Path, "/static/images/"); ok && name != "" {
			r.URL.Path = "/spec_images/" + name
		}

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
