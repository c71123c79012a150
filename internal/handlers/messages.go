package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gluk-w/claworc/shellrelay/internal/dispatcher"
	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/middleware"
)

// Set from main.go during init.
var (
	Dispatch *dispatcher.Dispatcher
	Callers  *middleware.CallerList
	Limiter  *middleware.RateLimiter
	// Outbox receives results in async reply mode.
	Outbox dispatcher.Sender
	// AsyncReplies answers 202 immediately and delivers the result through
	// Outbox.
	AsyncReplies bool
)

// maxMessageBody bounds an inbound message payload.
const maxMessageBody = 64 * 1024

type messageRequest struct {
	Caller string `json:"caller"`
	Text   string `json:"text"`
}

// PostMessage handles POST /api/v1/messages.
func PostMessage(w http.ResponseWriter, r *http.Request) {
	if Dispatch == nil {
		writeError(w, http.StatusServiceUnavailable, "Dispatcher not initialized")
		return
	}

	var body messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	body.Caller = strings.TrimSpace(body.Caller)
	if body.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}
	if !Callers.Allowed(body.Caller) {
		log.Printf("[http] refused message from unauthorized caller %s", logutil.SanitizeForLog(body.Caller))
		writeError(w, http.StatusForbidden, "Caller not authorized")
		return
	}
	if !Limiter.Allow(body.Caller) {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	if AsyncReplies && Outbox != nil {
		go func(caller, text string) {
			result := Dispatch.HandleIncomingMessage(context.Background(), caller, text)
			Outbox.Send(caller, result)
		}(body.Caller, body.Text)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	result := Dispatch.HandleIncomingMessage(r.Context(), body.Caller, body.Text)
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}
