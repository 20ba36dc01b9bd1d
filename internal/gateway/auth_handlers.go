package gateway

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/haozheli/docchat/internal/sessions"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" || password == "" {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}

	if !s.deps.Auth.AllowLogin(r.RemoteAddr) {
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	}
	if !s.deps.Auth.CheckCredentials(username, password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	sessionID := uuid.New().String()
	if !s.deps.Sessions.AttemptLogin(username, r.RemoteAddr, sessionID) {
		http.Error(w, "user already logged in elsewhere", http.StatusConflict)
		return
	}
	if err := s.deps.Auth.SetLogin(w, r, username, sessionID); err != nil {
		s.deps.Sessions.Logout(username)
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"username":   username,
		"session_id": sessionID,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if username, _, ok := s.deps.Auth.CurrentUser(r); ok {
		s.deps.Sessions.Logout(username)
	}
	s.deps.Auth.ClearLogin(w, r)
	http.Redirect(w, r, "/static/login.html", http.StatusFound)
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	username, _ := sessions.UserFrom(r)
	sessionID, _ := s.deps.Sessions.SessionID(username)
	writeJSON(w, http.StatusOK, map[string]string{
		"username":   username,
		"session_id": sessionID,
	})
}
