package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/dispatch"
)

const healthTimeout = 2 * time.Second

// handleWebSocket authenticates the request, upgrades it and registers the
// connection under its user. Presence is recorded for the connection and
// cleared when it goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	token := requestToken(r)
	sess, err := s.sessions.Validate(r.Context(), token)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "userId", sess.UserID, "remoteAddr", r.RemoteAddr, "error", err)
		return
	}

	caller := dispatch.Caller{
		UserID:       sess.UserID,
		Token:        token,
		ConnectionID: ulid.Make().String(),
	}
	if err := s.presence.Connect(r.Context(), caller.UserID, caller.ConnectionID); err != nil {
		s.log.Warn("presence not recorded", "op", "connect", "userId", caller.UserID, "connectionId", caller.ConnectionID, "error", err)
	}

	client := newClient(conn, s.hub, s.handler, caller, r.RemoteAddr, s.opts, s.log)
	client.onClose = func() { s.disconnect(caller) }

	if !s.hub.Register(client) {
		client.closeConnection()
		s.disconnect(caller)
	}
}

func (s *Server) disconnect(caller dispatch.Caller) {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	if _, err := s.presence.Disconnect(ctx, caller.UserID, caller.ConnectionID); err != nil {
		s.log.Warn("presence not cleared", "op", "disconnect", "userId", caller.UserID, "connectionId", caller.ConnectionID, "error", err)
	}
}

// handleFileAccess answers 204 when the bearer may download the file.
func (s *Server) handleFileAccess(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Validate(r.Context(), bearerToken(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if _, err := s.files.AuthorizeFileAccess(r.Context(), r.PathValue("filename"), sess.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogout ends the bearer's session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), bearerToken(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRoot is a plain liveness answer.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat server is running!")
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth probes every configured dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for _, hc := range s.checks {
		if err := hc.Check(ctx); err != nil {
			s.log.Warn("health check failed", "check", hc.Name, "error", err)
			resp.Checks[hc.Name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, dispatch.ErrorPayload{Message: chat.PublicMessage(err)})
}

func statusFor(err error) int {
	switch chat.Code(err) {
	case chat.CodeValidation:
		return http.StatusBadRequest
	case chat.CodeUnauthorized:
		return http.StatusUnauthorized
	case chat.CodeForbidden:
		return http.StatusForbidden
	case chat.CodeNotFound:
		return http.StatusNotFound
	case chat.CodeRateLimited:
		return http.StatusTooManyRequests
	case chat.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
