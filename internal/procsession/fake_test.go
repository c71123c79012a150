package procsession

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"
)

// fakeProcess is a scripted Process. Tests push output with emit and end it
// with exit.
type fakeProcess struct {
	output chan []byte
	done   chan struct{}

	mu         sync.Mutex
	inputs     []string
	exitCode   int
	terminated int
	exitOnce   sync.Once
	closeOnce  sync.Once
	onInput    func(p *fakeProcess, text string)
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		output: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (p *fakeProcess) emit(s string) {
	p.output <- []byte(s)
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) Output() <-chan []byte { return p.output }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *fakeProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	if p.Exited() {
		return 0, os.ErrProcessDone
	}
	text := strings.TrimSuffix(string(b), "\n")
	p.mu.Lock()
	p.inputs = append(p.inputs, text)
	hook := p.onInput
	p.mu.Unlock()
	if hook != nil {
		go hook(p, text)
	}
	return len(b), nil
}

func (p *fakeProcess) Terminate(time.Duration) {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
	p.exit(-1)
}

func (p *fakeProcess) Close() error {
	p.closeOnce.Do(func() {})
	return nil
}

func (p *fakeProcess) terminations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *fakeProcess) receivedInputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.inputs...)
}

// fakeSpawner hands out queued fake processes and records commands.
type fakeSpawner struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	commands []string
	ptys     []bool
	err      error
}

func (s *fakeSpawner) add(p *fakeProcess) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs = append(s.procs, p)
	return p
}

func (s *fakeSpawner) Spawn(_ context.Context, command string, usePTY bool) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	s.ptys = append(s.ptys, usePTY)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.procs) == 0 {
		return nil, errors.New("no fake process queued")
	}
	p := s.procs[0]
	s.procs = s.procs[1:]
	return p, nil
}

// fakeOutbound records notifications and applies the same prompt
// de-duplication as notify.Sender.
type fakeOutbound struct {
	mu      sync.Mutex
	sent    []string
	prompts []string
	last    map[string]string
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{last: make(map[string]string)}
}

func (o *fakeOutbound) Send(identity, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, text)
	o.last[identity] = text
}

func (o *fakeOutbound) SendPrompt(identity, text string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last[identity] == text {
		return false
	}
	o.last[identity] = text
	o.prompts = append(o.prompts, text)
	return true
}

func (o *fakeOutbound) Reset(identity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.last, identity)
}

func (o *fakeOutbound) promptTexts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.prompts...)
}

func (o *fakeOutbound) sentTexts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent...)
}
