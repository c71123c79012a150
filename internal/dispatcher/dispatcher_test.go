package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/audit"
	"github.com/gluk-w/claworc/shellrelay/internal/policy"
	"github.com/gluk-w/claworc/shellrelay/internal/procsession"
	"github.com/gluk-w/claworc/shellrelay/internal/reply"
	"github.com/gluk-w/claworc/shellrelay/internal/runner"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
)

type countingSpawner struct {
	mu    sync.Mutex
	n     int
	inner procsession.ExecSpawner
}

func (s *countingSpawner) Spawn(ctx context.Context, command string, usePTY bool) (procsession.Process, error) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return s.inner.Spawn(ctx, command, usePTY)
}

func (s *countingSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type countingRunner struct {
	mu    sync.Mutex
	n     int
	inner *runner.Runner
}

func (r *countingRunner) Run(ctx context.Context, command string) (runner.Result, error) {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
	return r.inner.Run(ctx, command)
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type outbox struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (o *outbox) Send(identity, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sent == nil {
		o.sent = make(map[string][]string)
	}
	o.sent[identity] = append(o.sent[identity], text)
}

func (o *outbox) SendPrompt(identity, text string) bool {
	o.Send(identity, text)
	return true
}

func (o *outbox) Reset(string) {}

func (o *outbox) get(identity string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent[identity]...)
}

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Log(e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditLog) byType(eventType string) []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Entry
	for _, e := range a.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// clock is a settable time source shared with the store's goroutines.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	d       *Dispatcher
	store   *session.Store
	spawner *countingSpawner
	runner  *countingRunner
	out     *outbox
	audit   *auditLog
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:   session.NewStore(session.Config{IdleTimeout: time.Minute, KillGrace: 200 * time.Millisecond}),
		spawner: &countingSpawner{},
		runner:  &countingRunner{inner: runner.New(runner.Config{Timeout: 5 * time.Second})},
		out:     &outbox{},
		audit:   &auditLog{},
	}
	t.Cleanup(f.store.CloseAll)

	ctrl := procsession.New(procsession.Options{
		Store:    f.store,
		Spawner:  f.spawner,
		Outbound: f.out,
	}, procsession.Config{
		DebounceWindow:     30 * time.Millisecond,
		NoOutputGrace:      2 * time.Second,
		StillRunningGrace:  2 * time.Second,
		InteractiveTimeout: 10 * time.Second,
		KillGrace:          200 * time.Millisecond,
		PipeInteractive:    true,
	})

	opts.Store = f.store
	opts.Sessions = ctrl
	opts.Runner = f.runner
	opts.Audit = f.audit
	opts.Sender = f.out
	if opts.Policy == nil {
		// sh counts as interactive so tests can script prompts.
		opts.Policy = policy.New(nil, []string{"sh"})
	}
	f.d = New(opts)
	return f
}

func (f *fixture) send(t *testing.T, text string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return f.d.HandleIncomingMessage(ctx, "alice", text)
}

const namePrompt = `sh -c 'printf "Name: "; read x; echo "hello $x"'`

func TestOneShotEcho(t *testing.T) {
	f := newFixture(t, Options{})
	if got := f.send(t, "echo hi"); got != "hi" {
		t.Errorf("result = %q, want %q", got, "hi")
	}
	if f.store.Count() != 0 {
		t.Error("one-shot command should not create a session")
	}
	if f.spawner.count() != 0 {
		t.Error("one-shot command should not spawn an interactive process")
	}

	executed := f.audit.byType(audit.EventCommandExecuted)
	if len(executed) != 1 || executed[0].ExitCode == nil || *executed[0].ExitCode != 0 {
		t.Errorf("audit entries = %+v", executed)
	}
}

func TestOneShotResults(t *testing.T) {
	f := newFixture(t, Options{})
	tests := []struct {
		command string
		prefix  string
	}{
		{"true", reply.DoneNoOutput},
		{"false", "❌ Exit code 1"},
		{"echo oops >&2; exit 4", "❌ Exit code 4\n\noops"},
		{"no-such-command-shellrelay", "❌ Command not found (exit 127)"},
	}
	for _, tt := range tests {
		if got := f.send(t, tt.command); !strings.HasPrefix(got, tt.prefix) {
			t.Errorf("%q: result = %q, want prefix %q", tt.command, got, tt.prefix)
		}
	}
}

func TestEmptyAndHelp(t *testing.T) {
	f := newFixture(t, Options{})
	if got := f.send(t, "   "); got != reply.EmptyMessage {
		t.Errorf("empty: %q", got)
	}
	if got := f.send(t, "HELP"); got != reply.Usage {
		t.Errorf("help: %q", got)
	}
}

func TestDenyListRejectsWithoutSpawning(t *testing.T) {
	f := newFixture(t, Options{})
	tests := []struct {
		command string
		token   string
	}{
		{"rm -rf /", "rm"},
		{"echo ok; reboot", "reboot"},
		{"ls|kill 1", "kill"},
		{"sh -c 'true && shutdown now'", "shutdown"},
		{"echo $(dd if=/dev/zero)", "dd"},
	}
	for _, tt := range tests {
		if got := f.send(t, tt.command); got != reply.Rejected(tt.token) {
			t.Errorf("%q: result = %q", tt.command, got)
		}
	}
	if f.spawner.count() != 0 || f.runner.count() != 0 {
		t.Errorf("rejected commands ran: spawns=%d runs=%d", f.spawner.count(), f.runner.count())
	}
	if got := len(f.audit.byType(audit.EventCommandRejected)); got != len(tests) {
		t.Errorf("rejected audit entries = %d, want %d", got, len(tests))
	}
}

func TestInteractivePromptThenInput(t *testing.T) {
	f := newFixture(t, Options{})

	if got := f.send(t, namePrompt); got != reply.AckWaiting {
		t.Fatalf("start result = %q", got)
	}
	info, ok := f.store.Get("alice")
	if !ok || !info.WaitingForInput {
		t.Fatalf("session should be waiting, got %+v ok=%v", info, ok)
	}
	prompts := f.out.get("alice")
	if len(prompts) == 0 || !strings.Contains(prompts[0], "Name:") {
		t.Errorf("prompt notification = %q", prompts)
	}

	if got := f.send(t, "bob"); got != "✅ Completed\n\nhello bob" {
		t.Errorf("input result = %q", got)
	}
	if _, ok := f.store.Get("alice"); ok {
		t.Error("session should be gone after the process exits")
	}
}

func TestHelpGoesToWaitingProcess(t *testing.T) {
	f := newFixture(t, Options{})

	cmd := `sh -c 'printf "Command (m for help): "; read x; echo "got $x"'`
	if got := f.send(t, cmd); got != reply.AckWaiting {
		t.Fatalf("start result = %q", got)
	}
	if got := f.send(t, "help"); got != "✅ Completed\n\ngot help" {
		t.Errorf("help while waiting = %q", got)
	}
	if got := f.send(t, "help"); got != reply.Usage {
		t.Errorf("help without a session = %q", got)
	}
}

func TestPromptNotificationKeepsProgramOutput(t *testing.T) {
	f := newFixture(t, Options{})

	cmd := `sh -c 'echo "Welcome to the quiz"; echo "Processes finished: 3"; echo "Memory usage stays low"; printf "Answer: "; read x'`
	if got := f.send(t, cmd); got != reply.AckWaiting {
		t.Fatalf("start result = %q", got)
	}
	prompts := f.out.get("alice")
	if len(prompts) == 0 {
		t.Fatal("expected a prompt notification")
	}
	for _, line := range []string{"Welcome to the quiz", "Processes finished: 3", "Memory usage stays low", "Answer:"} {
		if !strings.Contains(prompts[0], line) {
			t.Errorf("prompt notification missing %q: %q", line, prompts[0])
		}
	}
	f.send(t, "exit")
}

func TestExitWhileWaiting(t *testing.T) {
	f := newFixture(t, Options{})
	if got := f.send(t, namePrompt); got != reply.AckWaiting {
		t.Fatalf("start result = %q", got)
	}

	if got := f.send(t, "Exit"); got != reply.SessionEnded {
		t.Errorf("exit result = %q", got)
	}
	if _, ok := f.store.Get("alice"); ok {
		t.Error("session should be removed")
	}
	if got := f.send(t, "quit"); got != reply.NoActiveSession {
		t.Errorf("second exit = %q", got)
	}
}

func TestIdleSessionSweptThenSessionsReportsNone(t *testing.T) {
	f := newFixture(t, Options{})
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.store.SetNowFunc(c.Now)
	f.d.SetNowFunc(c.Now)

	if got := f.send(t, namePrompt); got != reply.AckWaiting {
		t.Fatalf("start result = %q", got)
	}
	c.Advance(30 * time.Second)
	status := f.send(t, "sessions")
	if !strings.Contains(status, "Name") && !strings.Contains(status, "printf") {
		t.Errorf("status should name the command: %q", status)
	}
	if !strings.Contains(status, "waiting for input") {
		t.Errorf("status should report waiting: %q", status)
	}

	c.Advance(2 * time.Minute)
	if n := f.store.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if got := f.send(t, "sessions"); got != reply.NoActiveSession {
		t.Errorf("sessions after sweep = %q", got)
	}
}

func TestInputToEndedSessionStartsFresh(t *testing.T) {
	f := newFixture(t, Options{})
	if got := f.send(t, namePrompt); got != reply.AckWaiting {
		t.Fatalf("start result = %q", got)
	}
	f.store.End("alice")

	// With no waiting session the text is a new one-shot command.
	if got := f.send(t, "echo again"); got != "again" {
		t.Errorf("result = %q", got)
	}
}

func TestCommandMarker(t *testing.T) {
	f := newFixture(t, Options{CommandMarker: "!"})

	if got := f.send(t, "echo hi"); got != fmt.Sprintf(reply.NotACommand, "!") {
		t.Errorf("unmarked text = %q", got)
	}
	if f.runner.count() != 0 {
		t.Error("unmarked text should not run")
	}
	if got := f.send(t, "!echo hi"); got != "hi" {
		t.Errorf("marked command = %q", got)
	}

	// Unmarked text is accepted as input for a waiting session.
	if got := f.send(t, "!"+namePrompt); got != reply.AckWaiting {
		t.Fatalf("start result = %q", got)
	}
	if got := f.send(t, "carol"); got != "✅ Completed\n\nhello carol" {
		t.Errorf("input result = %q", got)
	}
}

func TestResultDeferredWhenCallerStopsWaiting(t *testing.T) {
	f := newFixture(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got := f.d.HandleIncomingMessage(ctx, "alice", `sh -c 'sleep 0.4; echo late'`)
	if got != reply.Deferred {
		t.Fatalf("result = %q, want deferred", got)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range f.out.get("alice") {
			if msg == "✅ Completed\n\nlate" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("deferred result never sent, outbox = %q", f.out.get("alice"))
}
