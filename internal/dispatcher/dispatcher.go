// Package dispatcher turns one inbound message into one reply. It handles
// the control directives, applies the command policy and routes the text to
// a running session, a new interactive session or a one-shot run.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/audit"
	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/policy"
	"github.com/gluk-w/claworc/shellrelay/internal/procsession"
	"github.com/gluk-w/claworc/shellrelay/internal/reply"
	"github.com/gluk-w/claworc/shellrelay/internal/runner"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
)

// Sessions is the interactive side, implemented by *procsession.Controller.
type Sessions interface {
	Start(ctx context.Context, identity, command string) *procsession.Call
	DeliverInput(ctx context.Context, identity, text string) (*procsession.Call, error)
	End(identity string) bool
}

// OneShot runs a command to completion, implemented by *runner.Runner.
type OneShot interface {
	Run(ctx context.Context, command string) (runner.Result, error)
}

// Sender delivers a result the caller stopped waiting for.
type Sender interface {
	Send(identity, text string)
}

// Options are the dispatcher's collaborators. Audit and Sender are
// optional.
type Options struct {
	Store    *session.Store
	Sessions Sessions
	Runner   OneShot
	Policy   *policy.Policy
	Audit    audit.Logger
	Sender   Sender
	// CommandMarker, when set, must prefix a message for it to be treated
	// as a command. Unmarked text is only accepted as session input.
	CommandMarker string
	// MaxOutputBytes bounds one-shot output in replies.
	MaxOutputBytes int
}

// Dispatcher routes inbound messages.
type Dispatcher struct {
	store    *session.Store
	sessions Sessions
	runner   OneShot
	policy   *policy.Policy
	auditor  audit.Logger
	sender   Sender
	marker   string
	maxOut   int
	nowFn    func() time.Time
}

// New creates a Dispatcher. A nil Policy falls back to the defaults.
func New(opts Options) *Dispatcher {
	if opts.Policy == nil {
		opts.Policy = policy.New(nil, nil)
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 3500
	}
	return &Dispatcher{
		store:    opts.Store,
		sessions: opts.Sessions,
		runner:   opts.Runner,
		policy:   opts.Policy,
		auditor:  opts.Audit,
		sender:   opts.Sender,
		marker:   opts.CommandMarker,
		maxOut:   opts.MaxOutputBytes,
		nowFn:    time.Now,
	}
}

// SetNowFunc overrides the clock used for session ages (for testing).
func (d *Dispatcher) SetNowFunc(fn func() time.Time) {
	d.nowFn = fn
}

// HandleIncomingMessage processes one message from identity and returns the
// text to send back. It blocks until the command finishes or, for
// interactive commands, until the process stops at a prompt.
func (d *Dispatcher) HandleIncomingMessage(ctx context.Context, identity, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return reply.EmptyMessage
	}

	marked := true
	if d.marker != "" {
		if rest, ok := strings.CutPrefix(text, d.marker); ok {
			text = strings.TrimSpace(rest)
		} else {
			marked = false
		}
		if text == "" {
			return reply.EmptyMessage
		}
	}

	if resp, ok := d.directive(identity, text); ok {
		return resp
	}

	if err := d.policy.Check(text); err != nil {
		var v *policy.Violation
		if errors.As(err, &v) {
			log.Printf("[dispatch] rejected command from %s: token %q",
				logutil.SanitizeForLog(identity), logutil.SanitizeForLog(v.Token))
			d.logAudit(audit.Entry{Identity: identity, EventType: audit.EventCommandRejected,
				Command: text, Details: "denied token: " + v.Token})
			return reply.Rejected(v.Token)
		}
	}

	if info, ok := d.store.Get(identity); ok && info.WaitingForInput {
		return d.deliver(ctx, identity, text)
	}

	if !marked {
		return fmt.Sprintf(reply.NotACommand, d.marker)
	}

	if d.policy.IsInteractive(text) {
		log.Printf("[dispatch] starting interactive session for %s: %s",
			logutil.SanitizeForLog(identity), logutil.SanitizeForLog(logutil.Truncate(policy.Redact(text), 120)))
		return d.await(ctx, identity, d.sessions.Start(ctx, identity, text))
	}
	return d.runOneShot(ctx, identity, text)
}

// directive handles the whole-message control words.
func (d *Dispatcher) directive(identity, text string) (string, bool) {
	switch strings.ToLower(text) {
	case "exit", "quit":
		if d.sessions.End(identity) {
			log.Printf("[dispatch] session ended by %s", logutil.SanitizeForLog(identity))
			return reply.SessionEnded, true
		}
		return reply.NoActiveSession, true
	case "sessions":
		info, ok := d.store.Get(identity)
		if !ok {
			return reply.NoActiveSession, true
		}
		return reply.SessionStatus(policy.Redact(info.Command), info.CreatedAt, info.WaitingForInput, d.nowFn()), true
	case "help":
		// A waiting program may take "help" as input (REPLs, fdisk, ftp).
		if info, ok := d.store.Get(identity); ok && info.WaitingForInput {
			return "", false
		}
		return reply.Usage, true
	}
	return "", false
}

func (d *Dispatcher) deliver(ctx context.Context, identity, text string) string {
	call, err := d.sessions.DeliverInput(ctx, identity, text)
	switch {
	case errors.Is(err, procsession.ErrSessionGone):
		return reply.SessionGone
	case errors.Is(err, procsession.ErrNotWaiting):
		return reply.Busy
	case err != nil:
		if ctx.Err() != nil {
			return reply.Deferred
		}
		return reply.ProcessError(err)
	}
	return d.await(ctx, identity, call)
}

// await waits for call. If ctx ends first, the result is forwarded through
// the Sender once it arrives.
func (d *Dispatcher) await(ctx context.Context, identity string, call *procsession.Call) string {
	res, err := call.Wait(ctx)
	if err == nil {
		return res
	}
	if d.sender == nil {
		return reply.Deferred
	}
	go func() {
		<-call.Done()
		if text, ok := call.Result(); ok {
			d.sender.Send(identity, text)
		}
	}()
	return reply.Deferred
}

func (d *Dispatcher) runOneShot(ctx context.Context, identity, command string) string {
	res, err := d.runner.Run(ctx, command)
	entry := audit.Entry{
		Identity:   identity,
		EventType:  audit.EventCommandExecuted,
		Command:    command,
		DurationMs: res.Duration.Milliseconds(),
	}
	if err != nil {
		log.Printf("[dispatch] one-shot for %s failed to start: %v", logutil.SanitizeForLog(identity), err)
		entry.Details = "start failed: " + err.Error()
		d.logAudit(entry)
		return reply.ProcessError(err)
	}
	entry.ExitCode = audit.IntPtr(res.ExitCode)
	entry.Details = res.Reason
	d.logAudit(entry)

	out := reply.Truncate(res.Output, d.maxOut)
	switch {
	case res.Reason == runner.ReasonTimeout:
		return reply.TimedOut(res.Duration.Round(time.Second), out)
	case res.ExitCode != 0:
		return reply.ExitStatus(res.ExitCode, out)
	case out == "":
		return reply.DoneNoOutput
	}
	return out
}

func (d *Dispatcher) logAudit(entry audit.Entry) {
	if d.auditor == nil {
		return
	}
	if err := d.auditor.Log(entry); err != nil {
		log.Printf("[dispatch] audit write failed: %v", err)
	}
}
