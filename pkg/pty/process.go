package pty

import (
	"bytes"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
)

// Process is a LiveSession backed by a plain os/exec subprocess with piped
// stdio. It stands in for a true pseudo-terminal host, which the daemon
// treats as an external capability; no third-party pty library appears
// anywhere in the retrieved dependency stack, so this adapter is the
// documented standard-library fallback (see the design ledger).
type Process struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	buf         bytes.Buffer // full output retained for Snapshot
	cursor      uint64
	closed      bool
	attachments map[string]Handlers

	listenersMu sync.Mutex
	listeners   map[string]func(Event)
}

// NewProcess launches input.Command and returns a Process driving it.
func NewProcess(input LaunchInput) (*Process, error) {
	cmd := exec.Command(input.Command, input.Args...)
	cmd.Dir = input.WorkingDir
	cmd.Env = input.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	p := &Process{
		cmd:         cmd,
		stdin:       stdin,
		attachments: make(map[string]Handlers),
		listeners:   make(map[string]func(Event)),
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go p.pump(stdout)
	go p.wait()

	return p, nil
}

func (p *Process) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			p.deliver(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) deliver(data []byte) {
	p.mu.Lock()
	p.buf.Write(data)
	p.cursor += uint64(len(data))
	cursor := p.cursor
	handlers := make([]Handlers, 0, len(p.attachments))
	for _, h := range p.attachments {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		if h.OnData != nil {
			h.OnData(cursor, data)
		}
	}
	p.emit(Event{Kind: EventTerminalOutput})
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	exit := Exit{}
	if p.cmd.ProcessState != nil {
		code := p.cmd.ProcessState.ExitCode()
		exit.Code = &code
	}
	if err != nil {
		if msg := err.Error(); msg != "" {
			sig := msg
			exit.Signal = &sig
		}
	}

	p.mu.Lock()
	handlers := make([]Handlers, 0, len(p.attachments))
	for _, h := range p.attachments {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		if h.OnExit != nil {
			h.OnExit(exit)
		}
	}
	p.emit(Event{Kind: EventSessionExit, Exit: &exit})
}

// Attach implements LiveSession.
func (p *Process) Attach(h Handlers, sinceCursor uint64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrNotLive
	}
	id := uuid.New().String()
	p.attachments[id] = h
	if sinceCursor < p.cursor && h.OnData != nil {
		backlog := p.buf.Bytes()
		start := uint64(len(backlog)) - (p.cursor - sinceCursor)
		if start > uint64(len(backlog)) {
			start = 0
		}
		replay := append([]byte(nil), backlog[start:]...)
		// Delivered while p.mu is held, so no live chunk can reach this
		// attachment before or during the replay.
		h.OnData(p.cursor, replay)
	}
	return id, nil
}

// Detach implements LiveSession.
func (p *Process) Detach(attachmentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attachments, attachmentID)
}

// Write implements LiveSession.
func (p *Process) Write(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrNotLive
	}
	_, err := p.stdin.Write(data)
	return err
}

// Resize implements LiveSession. Plain pipes have no notion of terminal
// size, so this is a documented no-op rather than a fabricated ioctl.
func (p *Process) Resize(_, _ int) error {
	return nil
}

// Snapshot implements LiveSession.
func (p *Process) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := bytes.Split(p.buf.Bytes(), []byte("\n"))
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return Snapshot{Lines: out}
}

// LatestCursor implements LiveSession.
func (p *Process) LatestCursor() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Pid returns the subprocess's OS process id, or 0 if it never started; the
// id is still reported after the subprocess exits. Satisfies the optional
// pider interface (pkg/session) that agent.tools.status probes for
// resource-usage reporting.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Close implements LiveSession.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

// OnEvent implements LiveSession.
func (p *Process) OnEvent(listener func(Event)) func() {
	p.listenersMu.Lock()
	id := uuid.New().String()
	p.listeners[id] = listener
	p.listenersMu.Unlock()
	return func() {
		p.listenersMu.Lock()
		delete(p.listeners, id)
		p.listenersMu.Unlock()
	}
}

func (p *Process) emit(ev Event) {
	p.listenersMu.Lock()
	listeners := make([]func(Event), 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.listenersMu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

// ProcessStarter is the Starter implementation backed by Process.
type ProcessStarter struct{}

// Start implements Starter.
func (ProcessStarter) Start(input LaunchInput) (LiveSession, error) {
	return NewProcess(input)
}

var _ LiveSession = (*Process)(nil)
var _ Starter = ProcessStarter{}
