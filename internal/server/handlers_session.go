package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/forgesmith/buildrunner/internal/session"
)

// createSessionResponse is the body of POST /session (spec.md §6).
type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// createSession allocates a session identifier without materializing any
// session state. The Connection Manager lazily creates the actual record
// (sandbox, directory, title) on the first channel bind for this ID, per
// spec.md §6's "allocates an identifier, lazily creates state on first
// channel bind" contract.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: session.GenerateID()})
}

// health reports liveness for process supervisors and load balancers.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionChannel upgrades to the bidirectional WebSocket channel (spec.md
// §6) and hands the connection to the Connection Manager for the lifetime
// of the socket.
func (s *Server) sessionChannel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionID is required")
		return
	}

	reconnect, _ := strconv.ParseBool(r.URL.Query().Get("reconnect"))
	s.connManager.ServeChannel(w, r, sessionID, reconnect)
}
