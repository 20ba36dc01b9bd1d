package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/haozheli/docchat/internal/chat"
)

// chatHandler is what both websocket flavors look like to the read loop.
type chatHandler interface {
	HandleMessage(raw []byte)
	Close()
}

// handleChatWS serves the tool-calling chat loop over a websocket.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	s.serveChatSocket(w, r, func(user string, sink *wsConn) chatHandler {
		return chat.NewOrchestrator(chat.Config{
			Provider:     s.deps.Provider,
			Registry:     s.deps.Registry,
			SystemPrompt: s.deps.Config.Chat.SystemPrompt,
			Model:        s.deps.Config.OpenAI.Model,
			Temperature:  0.7,
			MaxDepth:     s.deps.Config.Chat.MaxToolDepth,
			HistoryRoot:  s.deps.Config.Roots.Conversation,
		}, user, r.URL.Query().Get("session_id"), sink)
	})
}

// handleStreamProxyWS serves the legacy SSE bridge over a websocket.
func (s *Server) handleStreamProxyWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config.Upstream.AgentURL == "" {
		http.Error(w, "upstream not configured", http.StatusServiceUnavailable)
		return
	}
	s.serveChatSocket(w, r, func(user string, sink *wsConn) chatHandler {
		return chat.NewStreamProxy(s.deps.Config.Upstream.AgentURL, s.deps.Config.Upstream.APIKey, user, sink)
	})
}

// serveChatSocket upgrades, validates the session, attaches the sink and
// pumps inbound frames into the handler until the client goes away.
func (s *Server) serveChatSocket(w http.ResponseWriter, r *http.Request, build func(user string, sink *wsConn) chatHandler) {
	username, _, ok := s.deps.Auth.CurrentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	sink := newWSConn(conn)

	// Attach validates session id under the manager lock and closes the
	// socket with 1008 itself on mismatch.
	if !s.deps.Sessions.ConnectWebSocket(sink, username, sessionID) {
		return
	}
	handler := build(username, sink)
	defer func() {
		s.deps.Sessions.DisconnectWebSocket(username, sink)
		handler.Close()
	}()

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read ended", "user", username, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handler.HandleMessage(raw)
	}
}
