package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/notify"
)

// Hub is set from main.go during init.
var Hub *notify.Hub

// StreamNotifications handles GET /api/v1/stream?caller=X. The websocket
// receives every notification sent to the caller as a JSON message.
func StreamNotifications(w http.ResponseWriter, r *http.Request) {
	if Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "Notification stream not initialized")
		return
	}
	caller := strings.TrimSpace(r.URL.Query().Get("caller"))
	if caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}
	if !Callers.Allowed(caller) {
		writeError(w, http.StatusForbidden, "Caller not authorized")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[stream] Failed to accept websocket: %v", err)
		return
	}
	log.Printf("[stream] subscriber connected for %s", logutil.SanitizeForLog(caller))
	Hub.Serve(r.Context(), conn, caller)
	log.Printf("[stream] subscriber for %s disconnected", logutil.SanitizeForLog(caller))
}
