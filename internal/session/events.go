package session

import (
	"log"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	EventCreated         EventType = "created"
	EventProcessAttached EventType = "process_attached"
	EventWaitingForInput EventType = "waiting_for_input"
	EventInputDelivered  EventType = "input_delivered"
	EventEnded           EventType = "ended"
	EventExpired         EventType = "expired"
)

// Event is one entry of a caller's session history.
type Event struct {
	Identity  string    `json:"identity"`
	Type      EventType `json:"type"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// maxEventsPerIdentity limits the number of stored events per caller.
const maxEventsPerIdentity = 50

// LogEvent records an event for identity. Events are kept in a ring buffer
// (last 50 per caller) and also written to the standard logger.
func (st *Store) LogEvent(identity string, eventType EventType, details string) {
	st.emitEvent(identity, eventType, details)
}

func (st *Store) emitEvent(identity string, eventType EventType, details string) {
	event := Event{
		Identity:  identity,
		Type:      eventType,
		Details:   details,
		Timestamp: st.now(),
	}

	st.eventsMu.Lock()
	events := append(st.events[identity], event)
	if len(events) > maxEventsPerIdentity {
		events = events[len(events)-maxEventsPerIdentity:]
	}
	st.events[identity] = events
	st.eventsMu.Unlock()

	if eventType != EventCreated {
		log.Printf("[session] event %s/%s %s", logutil.SanitizeForLog(identity), eventType, logutil.SanitizeForLog(details))
	}
}

// Events returns the stored events for identity, oldest first.
func (st *Store) Events(identity string) []Event {
	st.eventsMu.RLock()
	defer st.eventsMu.RUnlock()
	events := st.events[identity]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}
