package procsession

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/claworc/shellrelay/internal/reply"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
)

// readUntil collects output from p until it contains want.
func readUntil(t *testing.T, p Process, want string) string {
	t.Helper()
	var got strings.Builder
	deadline := time.After(5 * time.Second)
	for !strings.Contains(got.String(), want) {
		select {
		case chunk, ok := <-p.Output():
			if !ok {
				t.Fatalf("output closed before %q; got %q", want, got.String())
			}
			got.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for %q; got %q", want, got.String())
		}
	}
	return got.String()
}

func waitExit(t *testing.T, p Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestExecSpawnerPipe(t *testing.T) {
	s := &ExecSpawner{}
	p, err := s.Spawn(context.Background(), `printf 'Name: '; read x; echo "hello $x" 1>&2`, false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()

	readUntil(t, p, "Name: ")
	if _, err := p.Write([]byte("bob\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	readUntil(t, p, "hello bob")
	waitExit(t, p)
	if p.ExitCode() != 0 {
		t.Errorf("exit code = %d", p.ExitCode())
	}
	if !p.Exited() {
		t.Error("Exited should be true")
	}
}

func TestExecSpawnerPTY(t *testing.T) {
	s := &ExecSpawner{}
	p, err := s.Spawn(context.Background(), `if [ -t 0 ]; then echo tty; fi; printf 'Name: '; read x; echo "hello $x"; exit 3`, true)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()

	out := readUntil(t, p, "Name: ")
	p.Write([]byte("bob\n"))
	out += readUntil(t, p, "hello bob")
	if !strings.Contains(out, "tty") {
		t.Errorf("process should see a terminal, output %q", out)
	}
	waitExit(t, p)
	if p.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", p.ExitCode())
	}
}

func TestExecSpawnerTerminate(t *testing.T) {
	s := &ExecSpawner{}
	p, err := s.Spawn(context.Background(), "sleep 30", false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()

	started := time.Now()
	p.Terminate(500 * time.Millisecond)
	if !p.Exited() {
		t.Fatal("process should be gone after Terminate")
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Errorf("Terminate took %s", elapsed)
	}
	if _, err := p.Write([]byte("x\n")); err == nil {
		t.Error("Write after exit should fail")
	}
}

func TestExecSpawnerTerminateEscalates(t *testing.T) {
	s := &ExecSpawner{}
	p, err := s.Spawn(context.Background(), `trap '' TERM; echo ready; while :; do sleep 1; done`, false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer p.Close()
	readUntil(t, p, "ready")

	p.Terminate(100 * time.Millisecond)
	if !p.Exited() {
		t.Fatal("process ignoring SIGTERM should be killed")
	}
}

func TestControllerWithShell(t *testing.T) {
	store := session.NewStore(session.Config{KillGrace: 100 * time.Millisecond})
	defer store.CloseAll()
	out := newFakeOutbound()
	cfg := testConfig()
	cfg.PipeInteractive = true
	ctrl := New(Options{Store: store, Spawner: &ExecSpawner{}, Outbound: out}, cfg)

	call := ctrl.Start(context.Background(), "alice", `printf 'Continue? '; read a; echo "answer=$a"`)
	if got := waitCall(t, call); got != reply.AckWaiting {
		t.Fatalf("start result = %q", got)
	}

	next, err := ctrl.DeliverInput(context.Background(), "alice", "yes")
	if err != nil {
		t.Fatalf("DeliverInput: %v", err)
	}
	if got := waitCall(t, next); got != "✅ Completed\n\nanswer=yes" {
		t.Errorf("result = %q", got)
	}
}
