package handlers

import (
	"net/http"

	"github.com/gluk-w/claworc/shellrelay/internal/procsession"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
	"github.com/go-chi/chi/v5"
)

// Set from main.go during init.
var (
	Sessions   *session.Store
	Controller *procsession.Controller
)

// ListSessions handles GET /api/v1/sessions.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session store not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":     Sessions.List(),
		"idle_timeout": Sessions.IdleTimeout().String(),
	})
}

// EndSession handles DELETE /api/v1/sessions/{caller}.
func EndSession(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session store not initialized")
		return
	}
	caller := chi.URLParam(r, "caller")
	if !Sessions.End(caller) {
		writeError(w, http.StatusNotFound, "No active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSessionEvents handles GET /api/v1/sessions/{caller}/events.
func GetSessionEvents(w http.ResponseWriter, r *http.Request) {
	if Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Session store not initialized")
		return
	}
	caller := chi.URLParam(r, "caller")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"caller": caller,
		"events": Sessions.Events(caller),
	})
}

// GetSessionOutput handles GET /api/v1/sessions/{caller}/output, the
// cleaned recent output of the caller's running session.
func GetSessionOutput(w http.ResponseWriter, r *http.Request) {
	if Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "Session controller not initialized")
		return
	}
	caller := chi.URLParam(r, "caller")
	out, ok := Controller.Transcript(caller)
	if !ok {
		writeError(w, http.StatusNotFound, "No active session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"caller": caller, "output": out})
}
