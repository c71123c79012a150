package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
)

// subscriberBuffer is how many messages a slow websocket client may fall
// behind before messages are dropped for it.
const subscriberBuffer = 32

// StreamMessage is the JSON frame written to websocket subscribers.
type StreamMessage struct {
	Caller    string    `json:"caller"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriber struct {
	ch chan StreamMessage
}

// Hub fans notifications out to websocket subscribers of a caller.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Notify never blocks: subscribers with a full buffer miss the message.
func (h *Hub) Notify(_ context.Context, identity, text string) error {
	msg := StreamMessage{Caller: identity, Text: text, Timestamp: time.Now().UTC()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[identity] {
		select {
		case sub.ch <- msg:
		default:
			log.Printf("[notify] stream subscriber for %s is behind, dropping message", logutil.SanitizeForLog(identity))
		}
	}
	return nil
}

func (h *Hub) subscribe(identity string) *subscriber {
	sub := &subscriber{ch: make(chan StreamMessage, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[identity] == nil {
		h.subs[identity] = make(map[*subscriber]struct{})
	}
	h.subs[identity][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(identity string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[identity], sub)
	if len(h.subs[identity]) == 0 {
		delete(h.subs, identity)
	}
}

// Subscribers returns the number of open streams for identity.
func (h *Hub) Subscribers(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[identity])
}

// Serve streams identity's notifications to conn until the client goes away
// or ctx ends. The caller accepts the connection; Serve closes it.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, identity string) {
	defer conn.CloseNow()

	sub := h.subscribe(identity)
	defer h.unsubscribe(identity, sub)

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer disconnects.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.ch:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
