package session

import (
	"sync"
	"time"
)

// Handle is the store's view of a running process. The store never reads
// or writes process I/O; it only needs to stop the process when a session
// ends.
type Handle interface {
	// Terminate sends a graceful termination signal, escalates to a
	// forceful kill if the process is still alive after grace, and returns
	// once the process is gone or the escalation has been sent.
	Terminate(grace time.Duration)
	// Exited reports whether the process has already been reaped.
	Exited() bool
}

// Session is one caller's in-flight interactive invocation.
type Session struct {
	// ID is a unique identifier for this session (UUID).
	ID string
	// Identity is the caller the session belongs to.
	Identity string
	// Command is the literal command line given to the shell.
	Command string
	// CreatedAt is when the session was created.
	CreatedAt time.Time

	mu           sync.Mutex
	handle       Handle
	waiting      bool
	ended        bool
	lastActivity time.Time
}

// Info is a point-in-time copy of a session, safe to hold without locks.
type Info struct {
	ID              string    `json:"id"`
	Identity        string    `json:"identity"`
	Command         string    `json:"command"`
	WaitingForInput bool      `json:"waiting_for_input"`
	HasProcess      bool      `json:"has_process"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:              s.ID,
		Identity:        s.Identity,
		Command:         s.Command,
		WaitingForInput: s.waiting,
		HasProcess:      s.handle != nil && !s.handle.Exited(),
		CreatedAt:       s.CreatedAt,
		LastActivityAt:  s.lastActivity,
	}
}

func (s *Session) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// update applies fn and refreshes the activity timestamp. It reports false
// once the session has ended, leaving the record untouched.
func (s *Session) update(now time.Time, fn func(s *Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	if fn != nil {
		fn(s)
	}
	s.lastActivity = now
	return true
}

// takeHandle marks the session ended and detaches the process handle so
// that exactly one caller ends up terminating it.
func (s *Session) takeHandle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle
	s.handle = nil
	s.waiting = false
	s.ended = true
	return h
}

// EndReason records why a session was removed.
type EndReason string

const (
	// EndRequested covers explicit ends: an exit directive, an admin
	// delete, or the controller ending a finished invocation.
	EndRequested EndReason = "requested"
	// EndReplaced means a new interactive command for the same caller
	// displaced the session.
	EndReplaced EndReason = "replaced"
	// EndExpired means the idle sweep removed the session.
	EndExpired EndReason = "expired"
)
