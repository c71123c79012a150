package notify

import (
	"context"
	"crypto/sha256"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

type outbox struct {
	pending []string
}

// Sender queues notifications per caller and delivers them in order through
// the wrapped Notifier. Delivery failures are logged and dropped; nothing is
// retried.
type Sender struct {
	next    Notifier
	timeout time.Duration

	mu     sync.Mutex
	boxes  map[string]*outbox
	ledger map[string][sha256.Size]byte
	wg     sync.WaitGroup
}

// NewSender wraps next. A zero timeout uses DefaultTimeout.
func NewSender(next Notifier, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		next:    next,
		timeout: timeout,
		boxes:   make(map[string]*outbox),
		ledger:  make(map[string][sha256.Size]byte),
	}
}

// Send queues text for identity unconditionally. It is used for final
// results, which must never be collapsed.
func (s *Sender) Send(identity, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[identity] = fingerprint(text)
	s.enqueueLocked(identity, text)
}

// SendPrompt queues text for identity unless it matches the last message
// sent to identity. It reports whether the message was queued.
func (s *Sender) SendPrompt(identity, text string) bool {
	fp := fingerprint(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.ledger[identity]; ok && last == fp {
		log.Printf("[notify] suppressed duplicate prompt for %s", logutil.SanitizeForLog(identity))
		return false
	}
	s.ledger[identity] = fp
	s.enqueueLocked(identity, text)
	return true
}

// Reset clears the caller's ledger entry so the next prompt is sent even if
// it repeats the previous one. Called when a new output window starts.
func (s *Sender) Reset(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledger, identity)
}

func (s *Sender) enqueueLocked(identity, text string) {
	box := s.boxes[identity]
	if box != nil {
		box.pending = append(box.pending, text)
		return
	}
	box = &outbox{pending: []string{text}}
	s.boxes[identity] = box
	s.wg.Add(1)
	go s.drain(identity, box)
}

// drain delivers a caller's queue until it is empty. Only one drain runs per
// caller at a time, which keeps delivery in queue order.
func (s *Sender) drain(identity string, box *outbox) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(box.pending) == 0 {
			delete(s.boxes, identity)
			s.mu.Unlock()
			return
		}
		text := box.pending[0]
		box.pending = box.pending[1:]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.next.Notify(ctx, identity, text); err != nil {
			log.Printf("[notify] delivery to %s failed: %v", logutil.SanitizeForLog(identity), err)
		}
		cancel()
	}
}

// Flush waits until every queued message has been attempted or ctx ends.
func (s *Sender) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fingerprint(text string) [sha256.Size]byte {
	return sha256.Sum256([]byte(text))
}
