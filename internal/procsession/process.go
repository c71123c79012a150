package procsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/gluk-w/claworc/shellrelay/internal/session"
)

// Process is a running child as the controller sees it.
type Process interface {
	session.Handle
	// Output delivers output chunks in order. It is closed once the
	// process side of the stream reaches EOF or Close is called.
	Output() <-chan []byte
	// Write sends bytes to the process's input.
	Write(p []byte) (int, error)
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 for signal deaths.
	ExitCode() int
	// Close releases the output stream. Safe to call more than once.
	Close() error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, command string, usePTY bool) (Process, error)
}

// SpawnError wraps a failure to start the shell or the command.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExecSpawner runs commands through a POSIX shell.
type ExecSpawner struct {
	Shell   string
	WorkDir string
}

const outputChunkSize = 32 * 1024

var (
	// sshWordRe finds a standalone ssh word so -tt can be injected after it.
	sshWordRe = regexp.MustCompile(`(^|[\s/])ssh(\s|$)`)
	ttyFlagRe = regexp.MustCompile(`(^|\s)-t+(\s|$)`)
)

// ForceTTY injects -tt into the first ssh invocation of command unless a -t
// flag is already present, so ssh allocates a remote terminal even though
// its own stdin may not look like one.
func ForceTTY(command string) string {
	if ttyFlagRe.MatchString(command) {
		return command
	}
	loc := sshWordRe.FindStringSubmatchIndex(command)
	if loc == nil {
		return command
	}
	// loc[3] is the end of the prefix group; "ssh" follows it.
	insertAt := loc[3] + len("ssh")
	return command[:insertAt] + " -tt" + command[insertAt:]
}

// Spawn starts command with `shell -c`. With usePTY the process gets a
// pseudo-terminal for stdin, stdout and stderr; otherwise stdout and stderr
// share one pipe so their interleaving is preserved.
func (s *ExecSpawner) Spawn(_ context.Context, command string, usePTY bool) (Process, error) {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	if usePTY {
		command = ForceTTY(command)
	}

	// Deliberately not tied to a request context: the process outlives the
	// call that started it and is stopped through Terminate.
	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = s.WorkDir
	p := &execProcess{
		cmd:    cmd,
		output: make(chan []byte, 64),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}

	if usePTY {
		cmd.Env = append(os.Environ(), "TERM=xterm")
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 120, Rows: 40})
		if err != nil {
			return nil, &SpawnError{Command: command, Err: err}
		}
		p.reader = ptmx
		p.writer = ptmx
		p.closers = []io.Closer{ptmx}
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, &SpawnError{Command: command, Err: err}
		}
		cmd.Stdout = pw
		cmd.Stderr = pw
		stdin, err := cmd.StdinPipe()
		if err != nil {
			pr.Close()
			pw.Close()
			return nil, &SpawnError{Command: command, Err: err}
		}
		if err := cmd.Start(); err != nil {
			pr.Close()
			pw.Close()
			return nil, &SpawnError{Command: command, Err: err}
		}
		// The child holds its own copy of the write end.
		pw.Close()
		p.reader = pr
		p.writer = stdin
		p.closers = []io.Closer{pr, stdin}
	}

	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	reader  io.Reader
	writer  io.Writer
	closers []io.Closer

	output chan []byte
	done   chan struct{}
	closed chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	exitCode  int
}

func (p *execProcess) readLoop() {
	defer close(p.output)
	buf := make([]byte, outputChunkSize)
	for {
		n, err := p.reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.output <- chunk:
			case <-p.closed:
				return
			}
		}
		if err != nil {
			// A PTY master returns EIO once the child side is gone.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				log.Printf("[procsession] output read error: %v", err)
			}
			return
		}
	}
}

func (p *execProcess) waitLoop() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.exitCode = code
	close(p.done)
}

func (p *execProcess) Output() <-chan []byte { return p.output }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	<-p.done
	return p.exitCode
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) Write(b []byte) (int, error) {
	if p.Exited() {
		return 0, os.ErrProcessDone
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.writer.Write(b)
}

func (p *execProcess) signal(sig syscall.Signal) {
	pid := p.cmd.Process.Pid
	// Both Setpgid and the PTY's Setsid make the child a group leader.
	if err := syscall.Kill(-pid, sig); err != nil {
		p.cmd.Process.Signal(sig)
	}
}

// Terminate sends SIGTERM to the process group and SIGKILL if it is still
// alive after grace.
func (p *execProcess) Terminate(grace time.Duration) {
	if p.Exited() {
		return
	}
	p.signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}
	log.Printf("[procsession] pid %d survived SIGTERM for %s, killing", p.cmd.Process.Pid, grace)
	p.signal(syscall.SIGKILL)
	select {
	case <-p.done:
	case <-time.After(grace):
	}
}

func (p *execProcess) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.closed)
		for _, c := range p.closers {
			if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
