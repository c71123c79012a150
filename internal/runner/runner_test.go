package runner

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestRunCapturesOutput(t *testing.T) {
	r := New(Config{})
	res, err := r.Run(context.Background(), "echo hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "hi" || res.ExitCode != 0 || res.Reason != ReasonOK {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunCombinesStderr(t *testing.T) {
	r := New(Config{})
	res, err := r.Run(context.Background(), "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Errorf("output = %q, want both streams", res.Output)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := New(Config{})
	res, err := r.Run(context.Background(), "echo failing; exit 3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 || res.Reason != ReasonNonZeroExit || res.Output != "failing" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunCommandNotFound(t *testing.T) {
	r := New(Config{})
	res, err := r.Run(context.Background(), "definitely-not-a-real-command-xyz")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 127 || res.Reason != ReasonCommandNotFound {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRunMissingShell(t *testing.T) {
	r := New(Config{Shell: "/nonexistent/shell"})
	res, err := r.Run(context.Background(), "echo hi")
	if err == nil {
		t.Fatal("expected start error")
	}
	if res.Reason != ReasonCommandNotFound {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonCommandNotFound)
	}
}

func TestRunTimeout(t *testing.T) {
	r := New(Config{Timeout: 200 * time.Millisecond, KillGrace: 100 * time.Millisecond})
	started := time.Now()
	res, err := r.Run(context.Background(), "echo before; sleep 10")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != ReasonTimeout {
		t.Errorf("reason = %q, want timeout", res.Reason)
	}
	if res.Output != "before" {
		t.Errorf("partial output = %q", res.Output)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("Run took %s, timeout not enforced", elapsed)
	}
}

func TestRunWorkDir(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{WorkDir: dir})
	res, err := r.Run(context.Background(), "pwd")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasSuffix(res.Output, dir) {
		t.Errorf("pwd = %q, want %q", res.Output, dir)
	}
}

func TestCapBufferKeepsTail(t *testing.T) {
	var b capBuffer
	head := bytes.Repeat([]byte("h"), maxCapture)
	b.Write(head)
	if b.Truncated() {
		t.Fatal("buffer at the limit should not be truncated")
	}
	n, err := b.Write(head)
	if err != nil || n != len(head) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	b.Write(head)
	b.Write([]byte("error: disk full"))

	got := b.String()
	if !b.Truncated() {
		t.Error("expected truncated flag")
	}
	if len(got) != maxCapture {
		t.Errorf("len = %d, want %d", len(got), maxCapture)
	}
	if !strings.HasSuffix(got, "error: disk full") {
		t.Errorf("tail lost: ...%q", got[len(got)-32:])
	}
}

func TestCapBufferCutsOnRuneBoundary(t *testing.T) {
	var b capBuffer
	b.Write([]byte("é"))
	b.Write(bytes.Repeat([]byte("x"), maxCapture-1))
	got := b.String()
	if !utf8.ValidString(got) {
		t.Error("tail starts mid-rune")
	}
	if len(got) != maxCapture-1 {
		t.Errorf("len = %d, want %d", len(got), maxCapture-1)
	}
}
