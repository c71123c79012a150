package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireToken rejects requests whose bearer token does not match token.
// An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerList is the set of caller identities allowed to send messages. An
// empty list allows everyone.
type CallerList struct {
	allowed map[string]struct{}
}

// NewCallerList builds a CallerList, ignoring blank entries.
func NewCallerList(callers []string) *CallerList {
	cl := &CallerList{allowed: make(map[string]struct{})}
	for _, c := range callers {
		if c = strings.TrimSpace(c); c != "" {
			cl.allowed[c] = struct{}{}
		}
	}
	return cl
}

// Allowed reports whether caller may send messages.
func (cl *CallerList) Allowed(caller string) bool {
	if cl == nil || len(cl.allowed) == 0 {
		return true
	}
	_, ok := cl.allowed[caller]
	return ok
}
