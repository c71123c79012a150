// Package session holds the registry of interactive sessions, one per
// caller identity, and sweeps sessions that have gone idle.
//
// The store owns session records. Process controllers hold a session ID for
// the duration of one invocation and mutate the record only through the
// store's methods, so every mutation is serialized by the store's locks.
package session

import (
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/google/uuid"
)

// DefaultIdleTimeout is how long a session may sit without activity before
// the sweep removes it.
const DefaultIdleTimeout = 5 * time.Minute

// DefaultKillGrace is how long a terminated process gets to exit before it
// is killed.
const DefaultKillGrace = 1500 * time.Millisecond

// Config configures a Store.
type Config struct {
	IdleTimeout time.Duration
	KillGrace   time.Duration
	// OnEnd, when set, is called after a session has been removed and its
	// process terminated.
	OnEnd func(info Info, reason EndReason)
}

// Store tracks at most one session per caller identity.
type Store struct {
	mu         sync.RWMutex
	byIdentity map[string]*Session
	byID       map[string]*Session

	idleTimeout time.Duration
	killGrace   time.Duration
	onEnd       func(info Info, reason EndReason)
	nowFn       func() time.Time

	eventsMu sync.RWMutex
	events   map[string][]Event
}

// NewStore creates an empty store. Zero durations fall back to the defaults.
func NewStore(cfg Config) *Store {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Store{
		byIdentity:  make(map[string]*Session),
		byID:        make(map[string]*Session),
		idleTimeout: cfg.IdleTimeout,
		killGrace:   cfg.KillGrace,
		onEnd:       cfg.OnEnd,
		nowFn:       time.Now,
		events:      make(map[string][]Event),
	}
}

// SetNowFunc sets the clock used for activity timestamps and the sweep.
func (st *Store) SetNowFunc(fn func() time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nowFn = fn
}

func (st *Store) now() time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.nowFn()
}

// IdleTimeout returns the configured idle timeout.
func (st *Store) IdleTimeout() time.Duration {
	return st.idleTimeout
}

// Create allocates a fresh session for identity and returns its ID. It does
// not spawn anything. A session the caller already had is ended first,
// including its process, before Create returns.
func (st *Store) Create(identity, command string) string {
	now := st.now()
	s := &Session{
		ID:           uuid.New().String(),
		Identity:     identity,
		Command:      command,
		CreatedAt:    now,
		lastActivity: now,
	}

	st.mu.Lock()
	old := st.byIdentity[identity]
	if old != nil {
		delete(st.byID, old.ID)
	}
	st.byIdentity[identity] = s
	st.byID[s.ID] = s
	st.mu.Unlock()

	if old != nil {
		log.Printf("[session] replacing session %s for %s", old.ID, logutil.SanitizeForLog(identity))
		st.finish(old, EndReplaced)
	}

	st.emitEvent(identity, EventCreated, logutil.Truncate(command, 120))
	log.Printf("[session] created session %s for %s: %s",
		s.ID, logutil.SanitizeForLog(identity), logutil.SanitizeForLog(logutil.Truncate(command, 120)))
	return s.ID
}

// Get returns the session for identity.
func (st *Store) Get(identity string) (Info, bool) {
	st.mu.RLock()
	s := st.byIdentity[identity]
	st.mu.RUnlock()
	if s == nil {
		return Info{}, false
	}
	return s.info(), true
}

// GetByID returns the session with the given ID.
func (st *Store) GetByID(id string) (Info, bool) {
	st.mu.RLock()
	s := st.byID[id]
	st.mu.RUnlock()
	if s == nil {
		return Info{}, false
	}
	return s.info(), true
}

// List returns a snapshot of every session.
func (st *Store) List() []Info {
	st.mu.RLock()
	sessions := make([]*Session, 0, len(st.byIdentity))
	for _, s := range st.byIdentity {
		sessions = append(sessions, s)
	}
	st.mu.RUnlock()

	result := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, s.info())
	}
	return result
}

// Count returns the number of tracked sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byIdentity)
}

// mutate applies fn to the session with the given ID under its lock and
// refreshes its activity timestamp. It reports false when the session no
// longer exists, including one that ended after the lookup.
func (st *Store) mutate(id string, fn func(s *Session)) bool {
	now := st.now()
	st.mu.RLock()
	s := st.byID[id]
	st.mu.RUnlock()
	if s == nil {
		return false
	}
	return s.update(now, fn)
}

// AttachProcess records the running process for a session. It returns
// false when the session has already ended; the caller then owns the
// process and must stop it.
func (st *Store) AttachProcess(id string, h Handle) bool {
	var identity string
	ok := st.mutate(id, func(s *Session) {
		s.handle = h
		identity = s.Identity
	})
	if ok {
		st.emitEvent(identity, EventProcessAttached, "")
	}
	return ok
}

// SetWaitingForInput flips the waiting flag.
func (st *Store) SetWaitingForInput(id string, waiting bool) bool {
	var identity string
	var changed bool
	ok := st.mutate(id, func(s *Session) {
		changed = s.waiting != waiting
		s.waiting = waiting
		identity = s.Identity
	})
	if ok && changed && waiting {
		st.emitEvent(identity, EventWaitingForInput, "")
	}
	return ok
}

// Touch refreshes the session's activity timestamp.
func (st *Store) Touch(id string) bool {
	return st.mutate(id, nil)
}

// End terminates the caller's session process, if still alive, and removes
// the record. Ending a caller with no session is a no-op.
func (st *Store) End(identity string) bool {
	st.mu.Lock()
	s := st.byIdentity[identity]
	if s != nil {
		delete(st.byIdentity, identity)
		delete(st.byID, s.ID)
	}
	st.mu.Unlock()

	if s == nil {
		return false
	}
	st.finish(s, EndRequested)
	return true
}

// EndByID ends the session only if it is still the one identified by id,
// so a controller finishing an old invocation cannot end a newer session.
func (st *Store) EndByID(id string) bool {
	st.mu.Lock()
	s := st.byID[id]
	if s != nil {
		delete(st.byID, id)
		if st.byIdentity[s.Identity] == s {
			delete(st.byIdentity, s.Identity)
		}
	}
	st.mu.Unlock()

	if s == nil {
		return false
	}
	st.finish(s, EndRequested)
	return true
}

// Sweep removes every session idle for longer than the idle timeout and
// returns how many were removed.
func (st *Store) Sweep() int {
	cutoff := st.now().Add(-st.idleTimeout)

	st.mu.Lock()
	var expired []*Session
	for identity, s := range st.byIdentity {
		if s.lastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(st.byIdentity, identity)
			delete(st.byID, s.ID)
		}
	}
	st.mu.Unlock()

	for _, s := range expired {
		log.Printf("[session] expired idle session %s for %s (last activity %s)",
			s.ID, logutil.SanitizeForLog(s.Identity), s.lastActive().Format(time.RFC3339))
		st.finish(s, EndExpired)
	}
	return len(expired)
}

// CloseAll ends every session. Used on shutdown.
func (st *Store) CloseAll() {
	st.mu.Lock()
	all := make([]*Session, 0, len(st.byIdentity))
	for _, s := range st.byIdentity {
		all = append(all, s)
	}
	st.byIdentity = make(map[string]*Session)
	st.byID = make(map[string]*Session)
	st.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			st.finish(s, EndRequested)
		}(s)
	}
	wg.Wait()
}

// finish stops the process of a session that has already been removed from
// the maps.
func (st *Store) finish(s *Session, reason EndReason) {
	info := s.info()
	if h := s.takeHandle(); h != nil && !h.Exited() {
		h.Terminate(st.killGrace)
	}

	eventType := EventEnded
	if reason == EndExpired {
		eventType = EventExpired
	}
	st.emitEvent(s.Identity, eventType, string(reason))

	if st.onEnd != nil {
		st.onEnd(info, reason)
	}
}
