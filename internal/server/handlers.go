package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/framewire/internal/dispatch"
	"github.com/mattjoyce/framewire/internal/journal"
	"github.com/mattjoyce/framewire/internal/ws"
)

// HealthzResponse is the body of GET /healthz.
type HealthzResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int64  `json:"active_sessions"`
}

// SessionsResponse is the body of GET /sessions.
type SessionsResponse struct {
	Sessions []*journal.Session `json:"sessions"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ActiveSessions: s.active.Load(),
	})
}

// handleSessions handles GET /sessions?limit=N.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.writeError(w, http.StatusNotFound, "session journal disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := s.recorder.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*journal.Session{}
	}
	s.writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions})
}

// handleWebSocket upgrades the request and serves the connection with the
// echo service until it ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Registered before the hijack so shutdown cannot miss the session.
	s.sessions.Add(1)

	conn, err := ws.Upgrade(w, r,
		ws.WithCodec(ws.NewCodec(ws.WithMaxFrameSize(s.cfg.WebSocket.MaxFrameSize))),
		ws.WithBuffers(s.bufferOptions()...),
	)
	if err != nil {
		s.sessions.Done()
		s.logger.Debug("websocket upgrade rejected", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	_ = s.runSession(ctx, "ws", r.RemoteAddr, func(opts ...dispatch.Option) error {
		return ws.WithFramed(conn, ws.Echo(), opts...).Run(ctx)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
