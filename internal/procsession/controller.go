// Package procsession runs interactive commands and decides, from their
// output alone, when they are waiting for the operator to type something.
//
// Each invocation is driven by one goroutine that owns all of its mutable
// state: the output window, the timers and the pending Call. Output
// readers, the exit waiter and DeliverInput only send to that goroutine,
// so the single-resolution rule for a Call never depends on lock ordering.
package procsession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/audit"
	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/prompt"
	"github.com/gluk-w/claworc/shellrelay/internal/recording"
	"github.com/gluk-w/claworc/shellrelay/internal/reply"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
	"github.com/gluk-w/claworc/shellrelay/internal/termclean"
)

var (
	// ErrSessionGone is returned when input targets a caller whose process
	// has exited or who has no session.
	ErrSessionGone = errors.New("session is no longer active")
	// ErrNotWaiting is returned when input arrives while the process is
	// still producing output.
	ErrNotWaiting = errors.New("session is not waiting for input")
)

// Outbound is how the controller reaches the caller outside of a Call's
// result.
type Outbound interface {
	Send(identity, text string)
	SendPrompt(identity, text string) bool
	Reset(identity string)
}

// Config holds the controller timings.
type Config struct {
	DebounceWindow     time.Duration
	NoOutputGrace      time.Duration
	StillRunningGrace  time.Duration
	LoginHardTimeout   time.Duration
	InteractiveTimeout time.Duration
	KillGrace          time.Duration
	MaxOutputBytes     int
	TranscriptBytes    int
	// MaxRecordingEntries bounds each recording; 0 means unbounded.
	MaxRecordingEntries int
	// PipeInteractive runs interactive commands other than remote logins on
	// plain pipes instead of a pseudo-terminal. Remote logins always get a
	// pseudo-terminal.
	PipeInteractive bool
}

func (c Config) withDefaults() Config {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 600 * time.Millisecond
	}
	if c.NoOutputGrace <= 0 {
		c.NoOutputGrace = 2 * time.Second
	}
	if c.StillRunningGrace <= 0 {
		c.StillRunningGrace = 5 * time.Second
	}
	if c.LoginHardTimeout <= 0 {
		c.LoginHardTimeout = 60 * time.Second
	}
	if c.InteractiveTimeout <= 0 {
		c.InteractiveTimeout = 10 * time.Minute
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 1500 * time.Millisecond
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 3500
	}
	return c
}

// Options are the controller's collaborators. Audit and Recordings are
// optional.
type Options struct {
	Store      *session.Store
	Spawner    Spawner
	Outbound   Outbound
	Audit      audit.Logger
	Recordings *recording.Store
}

// Controller starts interactive invocations and routes input to them.
type Controller struct {
	store      *session.Store
	spawner    Spawner
	out        Outbound
	auditor    audit.Logger
	recordings *recording.Store
	cfg        Config

	mu   sync.Mutex
	runs map[string]*run // keyed by session ID
}

// New creates a Controller.
func New(opts Options, cfg Config) *Controller {
	return &Controller{
		store:      opts.Store,
		spawner:    opts.Spawner,
		out:        opts.Outbound,
		auditor:    opts.Audit,
		recordings: opts.Recordings,
		cfg:        cfg.withDefaults(),
		runs:       make(map[string]*run),
	}
}

// Start launches command for identity and returns immediately. Any session
// identity already had is ended first. The returned Call resolves with the
// command's output when it finishes, with a short acknowledgement when it
// stops at a prompt, or with a diagnostic.
func (c *Controller) Start(ctx context.Context, identity, command string) *Call {
	call := newCall()
	id := c.store.Create(identity, command)
	remote := prompt.IsRemoteLogin(command)

	proc, err := c.spawner.Spawn(ctx, command, remote || !c.cfg.PipeInteractive)
	if err != nil {
		log.Printf("[procsession] spawn failed for %s: %v", logutil.SanitizeForLog(identity), err)
		c.store.EndByID(id)
		c.logAudit(audit.Entry{Identity: identity, SessionID: id, EventType: audit.EventCommandExecuted,
			Command: command, Details: "spawn failed: " + err.Error()})
		call.resolve(reply.ProcessError(err))
		return call
	}

	if !c.store.AttachProcess(id, proc) {
		// Ended between Create and Attach; the process is ours to stop.
		proc.Terminate(c.cfg.KillGrace)
		proc.Close()
		call.resolve(reply.SessionEnded)
		return call
	}

	r := newRun(c, id, identity, command, remote, proc)
	r.pending = call

	c.mu.Lock()
	c.runs[id] = r
	c.mu.Unlock()

	c.logAudit(audit.Entry{Identity: identity, SessionID: id, EventType: audit.EventSessionStart, Command: command})
	go r.loop()
	return call
}

// DeliverInput writes text plus a newline to the caller's waiting process
// and returns a Call for whatever the process does next.
func (c *Controller) DeliverInput(ctx context.Context, identity, text string) (*Call, error) {
	info, ok := c.store.Get(identity)
	if !ok || !info.HasProcess {
		return nil, ErrSessionGone
	}
	r := c.lookup(info.ID)
	if r == nil {
		return nil, ErrSessionGone
	}

	req := inputRequest{text: text, call: newCall(), result: make(chan error, 1)}
	select {
	case r.inputs <- req:
	case <-r.ended:
		return nil, ErrSessionGone
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-req.result:
		if err != nil {
			return nil, err
		}
		return req.call, nil
	case <-r.ended:
		return nil, ErrSessionGone
	}
}

// End ends identity's session, killing its process. Safe to call when there
// is no session.
func (c *Controller) End(identity string) bool {
	return c.store.End(identity)
}

// Transcript returns the normalized recent output of identity's session.
func (c *Controller) Transcript(identity string) (string, bool) {
	info, ok := c.store.Get(identity)
	if !ok {
		return "", false
	}
	r := c.lookup(info.ID)
	if r == nil {
		return "", false
	}
	return termclean.Normalize(string(r.transcript.Snapshot())), true
}

// Running returns the number of invocations whose run loop is active.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

func (c *Controller) lookup(sessionID string) *run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[sessionID]
}

func (c *Controller) forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, sessionID)
}

func (c *Controller) logAudit(entry audit.Entry) {
	if c.auditor == nil {
		return
	}
	if err := c.auditor.Log(entry); err != nil {
		log.Printf("[procsession] audit write failed: %v", err)
	}
}

func (c *Controller) saveRecording(sessionID string, rec *recording.Recording) {
	if c.recordings == nil || rec == nil || rec.Len() == 0 {
		return
	}
	path, err := c.recordings.Save(sessionID, rec)
	if err != nil {
		log.Printf("[procsession] save recording %s: %v", sessionID, err)
		return
	}
	log.Printf("[procsession] recording for %s saved to %s (%d entries)", sessionID, path, rec.Len())
}

func (c *Controller) hardTimeout(remote bool) time.Duration {
	if remote {
		return c.cfg.LoginHardTimeout
	}
	return c.cfg.InteractiveTimeout
}

func wrapGone(err error) error {
	return fmt.Errorf("%w: %v", ErrSessionGone, err)
}
