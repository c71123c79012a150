package procsession

import (
	"fmt"
	"log"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/audit"
	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
	"github.com/gluk-w/claworc/shellrelay/internal/prompt"
	"github.com/gluk-w/claworc/shellrelay/internal/recording"
	"github.com/gluk-w/claworc/shellrelay/internal/reply"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
	"github.com/gluk-w/claworc/shellrelay/internal/termclean"
)

// maxWindowBytes bounds the raw output kept for classification.
const maxWindowBytes = 256 * 1024

// outputDrainTimeout is how long to keep reading output after the process
// has been reaped.
const outputDrainTimeout = 250 * time.Millisecond

type phase int

const (
	phaseStreaming phase = iota
	phaseWaiting
)

type inputRequest struct {
	text   string
	call   *Call
	result chan error
}

// loopTimer is a stoppable timer whose channel is nil while disarmed, so it
// can sit in a select unconditionally.
type loopTimer struct {
	t *time.Timer
	C <-chan time.Time
}

func (lt *loopTimer) arm(d time.Duration) {
	lt.stop()
	lt.t = time.NewTimer(d)
	lt.C = lt.t.C
}

func (lt *loopTimer) stop() {
	if lt.t != nil {
		lt.t.Stop()
	}
	lt.t = nil
	lt.C = nil
}

func (lt *loopTimer) armed() bool {
	return lt.t != nil
}

// run is one invocation. Everything below the channels is owned by the
// loop goroutine.
type run struct {
	c           *Controller
	sessionID   string
	identity    string
	command     string
	remoteLogin bool
	proc        Process
	started     time.Time
	transcript  *Transcript
	rec         *recording.Recording

	inputs chan inputRequest
	ended  chan struct{}

	phase         phase
	pending       *Call
	window        []byte
	priorFailures int
	authenticated bool

	debounce     loopTimer
	noOutput     loopTimer
	stillRunning loopTimer
	hard         loopTimer
}

func newRun(c *Controller, sessionID, identity, command string, remote bool, proc Process) *run {
	r := &run{
		c:           c,
		sessionID:   sessionID,
		identity:    identity,
		command:     command,
		remoteLogin: remote,
		proc:        proc,
		started:     time.Now(),
		transcript:  NewTranscript(c.cfg.TranscriptBytes),
		inputs:      make(chan inputRequest),
		ended:       make(chan struct{}),
	}
	if c.recordings != nil {
		r.rec = recording.New(c.cfg.MaxRecordingEntries)
	}
	return r
}

func (r *run) loop() {
	defer close(r.ended)
	defer r.c.forget(r.sessionID)

	output := r.proc.Output()
	r.armCallTimers()

	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				output = nil
				continue
			}
			r.onOutput(chunk)
		case <-r.proc.Done():
			r.drain(output)
			r.finish()
			return
		case req := <-r.inputs:
			req.result <- r.onInput(req)
		case <-r.debounce.C:
			r.debounce.stop()
			r.evaluate(false)
		case <-r.stillRunning.C:
			r.stillRunning.stop()
			r.evaluate(true)
		case <-r.noOutput.C:
			r.noOutput.stop()
			r.onNoOutputGrace()
		case <-r.hard.C:
			r.hard.stop()
			r.onHardTimeout()
		}
	}
}

func (r *run) armCallTimers() {
	r.noOutput.arm(r.c.cfg.NoOutputGrace)
	r.hard.arm(r.c.hardTimeout(r.remoteLogin))
}

func (r *run) stopTimers() {
	r.debounce.stop()
	r.noOutput.stop()
	r.stillRunning.stop()
	r.hard.stop()
}

func (r *run) onOutput(chunk []byte) {
	r.transcript.Write(chunk)
	if r.rec != nil {
		r.rec.RecordOutput(chunk)
	}
	r.window = append(r.window, chunk...)
	if len(r.window) > maxWindowBytes {
		r.window = r.window[len(r.window)-maxWindowBytes:]
	}
	r.c.store.Touch(r.sessionID)
	// New output means the process is not stalled; the second look only
	// runs after a fresh quiet period.
	r.stillRunning.stop()
	r.debounce.arm(r.c.cfg.DebounceWindow)
}

func (r *run) drain(output <-chan []byte) {
	if output == nil {
		return
	}
	t := time.NewTimer(outputDrainTimeout)
	defer t.Stop()
	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				return
			}
			r.onOutput(chunk)
		case <-t.C:
			return
		}
	}
}

// evaluate classifies the current window. final is set on the second look
// after StillRunning, where anything unresolved is treated as a prompt.
func (r *run) evaluate(final bool) {
	res := prompt.Classify(prompt.Input{
		Command:       r.command,
		Raw:           string(r.window),
		PriorFailures: r.priorFailures,
		Authenticated: r.authenticated,
	})

	switch res.Kind {
	case prompt.AuthFailure:
		if res.Terminal() {
			r.failLogin(res)
			return
		}
		r.toWaiting(res.Reason)
	case prompt.NeedsInput:
		if r.remoteLogin && res.Reason == prompt.ReasonShellPrompt && !r.authenticated {
			r.authenticated = true
			log.Printf("[procsession] session %s reached a remote shell", r.sessionID)
		}
		r.toWaiting(res.Reason)
	case prompt.StillRunning:
		if r.phase == phaseWaiting {
			return
		}
		if final {
			r.toWaiting("still running after grace")
			return
		}
		r.stillRunning.arm(r.c.cfg.StillRunningGrace)
	case prompt.NoOutputYet:
		if r.phase == phaseStreaming && !r.noOutput.armed() {
			r.noOutput.arm(r.c.cfg.NoOutputGrace)
		}
	}
}

func (r *run) onNoOutputGrace() {
	if r.phase != phaseStreaming {
		return
	}
	if termclean.Normalize(string(r.window)) != "" {
		return
	}
	r.toWaiting("no output")
}

// toWaiting marks the session as waiting, sends the prompt to the caller and
// resolves the pending call with the short acknowledgement.
func (r *run) toWaiting(reason string) {
	wasWaiting := r.phase == phaseWaiting
	r.phase = phaseWaiting
	r.noOutput.stop()
	r.stillRunning.stop()
	r.hard.stop()

	if !wasWaiting {
		r.c.store.SetWaitingForInput(r.sessionID, true)
		log.Printf("[procsession] session %s waiting for input (%s)", r.sessionID, reason)
	}
	r.c.out.SendPrompt(r.identity, reply.Waiting(r.windowText()))

	if r.pending != nil {
		r.pending.resolve(reply.AckWaiting)
		r.pending = nil
	}
}

func (r *run) onInput(req inputRequest) error {
	if r.proc.Exited() {
		return ErrSessionGone
	}
	if r.phase != phaseWaiting {
		return ErrNotWaiting
	}
	line := req.text + "\n"
	if _, err := r.proc.Write([]byte(line)); err != nil {
		return wrapGone(err)
	}
	if r.rec != nil {
		r.rec.RecordInput(len(line))
	}

	// Failures in the window being closed count toward the credential limit.
	if r.remoteLogin && !r.authenticated {
		if _, n, ok := prompt.DetectFailure(string(r.window)); ok {
			r.priorFailures += n
		}
	}
	r.window = r.window[:0]
	r.phase = phaseStreaming
	r.c.store.SetWaitingForInput(r.sessionID, false)
	r.c.store.LogEvent(r.identity, session.EventInputDelivered, fmt.Sprintf("%d bytes", len(line)))
	r.c.out.Reset(r.identity)
	r.c.logAudit(audit.Entry{
		Identity:  r.identity,
		SessionID: r.sessionID,
		EventType: audit.EventInputDelivered,
		Details:   fmt.Sprintf("%d bytes", len(line)),
	})

	r.pending = req.call
	r.armCallTimers()
	return nil
}

func (r *run) onHardTimeout() {
	if r.pending == nil {
		return
	}
	after := r.c.hardTimeout(r.remoteLogin)
	log.Printf("[procsession] session %s for %s timed out after %s",
		r.sessionID, logutil.SanitizeForLog(r.identity), after)
	r.pending.resolve(reply.TimedOut(after, r.windowText()))
	r.pending = nil
	r.c.logAudit(audit.Entry{
		Identity:   r.identity,
		SessionID:  r.sessionID,
		EventType:  audit.EventCommandExecuted,
		Command:    r.command,
		Details:    "timeout",
		DurationMs: time.Since(r.started).Milliseconds(),
	})
	r.c.store.EndByID(r.sessionID)
}

// failLogin ends a remote login that has failed too many times without
// waiting for the process to give up on its own.
func (r *run) failLogin(res prompt.Result) {
	msg := reply.AuthFailure(res.Failure.String(), res.Attempts, prompt.Remediation(res.Failure), r.windowText())
	log.Printf("[procsession] session %s login failed: %s after %d attempt(s)", r.sessionID, res.Failure, res.Attempts)
	r.resolveOrSend(msg)
	r.c.logAudit(audit.Entry{
		Identity:  r.identity,
		SessionID: r.sessionID,
		EventType: audit.EventAuthFailure,
		Command:   r.command,
		Details:   fmt.Sprintf("%s attempts=%d", res.Failure, res.Attempts),
	})
	r.c.store.EndByID(r.sessionID)
}

// finish runs once the process has been reaped.
func (r *run) finish() {
	r.stopTimers()
	r.proc.Close()
	exitCode := r.proc.ExitCode()

	// EndByID fails when someone else already ended the session: an exit
	// directive, a replacing Start, the idle sweep, a timeout or a failed
	// login. Those paths have already told the caller what happened.
	if !r.c.store.EndByID(r.sessionID) {
		if r.pending != nil {
			r.pending.resolve(reply.SessionEnded)
			r.pending = nil
		}
		log.Printf("[procsession] session %s stopped (exit %d)", r.sessionID, exitCode)
		r.c.saveRecording(r.sessionID, r.rec)
		return
	}

	r.resolveOrSend(r.completionMessage(exitCode))
	log.Printf("[procsession] session %s for %s exited with code %d",
		r.sessionID, logutil.SanitizeForLog(r.identity), exitCode)
	r.c.logAudit(audit.Entry{
		Identity:   r.identity,
		SessionID:  r.sessionID,
		EventType:  audit.EventCommandExecuted,
		Command:    r.command,
		ExitCode:   audit.IntPtr(exitCode),
		DurationMs: time.Since(r.started).Milliseconds(),
	})
	r.c.saveRecording(r.sessionID, r.rec)
}

func (r *run) completionMessage(exitCode int) string {
	text := r.windowText()
	if r.remoteLogin && !r.authenticated {
		if f, n, ok := prompt.DetectFailure(string(r.window)); ok {
			return reply.AuthFailure(f.String(), r.priorFailures+n, prompt.Remediation(f), text)
		}
	}
	return reply.Finished(exitCode, text)
}

// resolveOrSend delivers msg as the pending call's result, or as a
// notification when the caller is not waiting on a call.
func (r *run) resolveOrSend(msg string) {
	if r.pending != nil {
		r.pending.resolve(msg)
		r.pending = nil
		return
	}
	r.c.out.Send(r.identity, msg)
}

func (r *run) windowText() string {
	return reply.Truncate(termclean.Normalize(string(r.window)), r.c.cfg.MaxOutputBytes)
}
