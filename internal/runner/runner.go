// Package runner executes non-interactive commands to completion and
// captures their combined output.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
)

// Exit reasons recorded on a Result.
const (
	ReasonOK              = ""
	ReasonNonZeroExit     = "nonzero_exit"
	ReasonCommandNotFound = "command_not_found"
	ReasonTimeout         = "timeout"
	ReasonStartFailed     = "start_failed"
)

// exitCommandNotFound is the POSIX shell status for an unknown command.
const exitCommandNotFound = 127

// maxCapture bounds how much output is held in memory per command.
const maxCapture = 1 << 20

// Config configures a Runner.
type Config struct {
	Shell     string
	WorkDir   string
	Timeout   time.Duration
	KillGrace time.Duration
}

// Runner runs one-shot commands through the shell.
type Runner struct {
	shell     string
	workDir   string
	timeout   time.Duration
	killGrace time.Duration
}

// New creates a Runner. Zero values fall back to /bin/sh, a two minute
// timeout and a 1.5s kill grace.
func New(cfg Config) *Runner {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 1500 * time.Millisecond
	}
	return &Runner{shell: cfg.Shell, workDir: cfg.WorkDir, timeout: cfg.Timeout, killGrace: cfg.KillGrace}
}

// Result is the outcome of a one-shot command.
type Result struct {
	Output   string
	ExitCode int
	Reason   string
	Duration time.Duration
	// Truncated is set when output exceeded the capture limit.
	Truncated bool
}

// Run executes command with `shell -c` and waits for it to finish. A
// non-zero exit is reported in the Result, not as an error; the error is
// reserved for commands that could not be started.
func (r *Runner) Run(ctx context.Context, command string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	var out capBuffer
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = r.workDir
	cmd.Stdin = nil
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Signal the whole group so children of the shell stop too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killGrace

	err := cmd.Run()
	res := Result{
		Output:    strings.TrimSpace(out.String()),
		Duration:  time.Since(started),
		Truncated: out.Truncated(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		res.ExitCode = -1
		res.Reason = ReasonTimeout
		log.Printf("[runner] timed out after %s: %s", r.timeout, logutil.SanitizeForLog(logutil.Truncate(command, 120)))
		return res, nil
	}

	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		res.Reason = ReasonNonZeroExit
		if res.ExitCode == exitCommandNotFound {
			res.Reason = ReasonCommandNotFound
		}
		return res, nil
	}

	res.Reason = classifyStartError(err)
	res.ExitCode = 1
	if res.Reason == ReasonCommandNotFound {
		res.ExitCode = exitCommandNotFound
	}
	return res, fmt.Errorf("start %s: %w", r.shell, err)
}

func classifyStartError(err error) string {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return ReasonCommandNotFound
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return ReasonCommandNotFound
	}
	return ReasonStartFailed
}

// capBuffer keeps the last maxCapture bytes of output, where the errors
// usually are. Stdout and stderr share it, so writes are locked.
type capBuffer struct {
	mu        sync.Mutex
	buf       []byte
	truncated bool
}

func (b *capBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	// Compact once the buffer is twice the limit to keep copies amortized.
	if len(b.buf) > 2*maxCapture {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-maxCapture:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *capBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tail := b.buf
	if len(tail) > maxCapture {
		tail = tail[len(tail)-maxCapture:]
	}
	if len(tail) < len(b.buf) || b.truncated {
		for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
			tail = tail[1:]
		}
	}
	return string(tail)
}

// Truncated reports whether output was dropped from the front.
func (b *capBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated || len(b.buf) > maxCapture
}
