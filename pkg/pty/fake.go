package pty

import (
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory LiveSession double for tests, grounded on the
// teacher's test/util fakes shape.
type Fake struct {
	mu          sync.Mutex
	closed      bool
	cursor      uint64
	written     []byte
	snapshot    Snapshot
	attachments map[string]Handlers

	listenersMu sync.Mutex
	listeners   map[string]func(Event)
}

// NewFake constructs an empty Fake.
func NewFake() *Fake {
	return &Fake{
		attachments: make(map[string]Handlers),
		listeners:   make(map[string]func(Event)),
	}
}

// Attach implements LiveSession.
func (f *Fake) Attach(h Handlers, _ uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrNotLive
	}
	id := uuid.New().String()
	f.attachments[id] = h
	return id, nil
}

// Detach implements LiveSession.
func (f *Fake) Detach(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attachments, id)
}

// Write implements LiveSession.
func (f *Fake) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrNotLive
	}
	f.written = append(f.written, data...)
	return nil
}

// WrittenBytes returns everything written so far, for test assertions.
func (f *Fake) WrittenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written...)
}

// Resize implements LiveSession.
func (f *Fake) Resize(int, int) error { return nil }

// Snapshot implements LiveSession.
func (f *Fake) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

// LatestCursor implements LiveSession.
func (f *Fake) LatestCursor() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

// Close implements LiveSession.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// OnEvent implements LiveSession.
func (f *Fake) OnEvent(listener func(Event)) func() {
	f.listenersMu.Lock()
	id := uuid.New().String()
	f.listeners[id] = listener
	f.listenersMu.Unlock()
	return func() {
		f.listenersMu.Lock()
		delete(f.listeners, id)
		f.listenersMu.Unlock()
	}
}

// Emit delivers a chunk of output to every attachment and advances the
// cursor, for test setup.
func (f *Fake) Emit(data []byte) {
	f.mu.Lock()
	f.cursor += uint64(len(data))
	cursor := f.cursor
	handlers := make([]Handlers, 0, len(f.attachments))
	for _, h := range f.attachments {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		if h.OnData != nil {
			h.OnData(cursor, data)
		}
	}
}

// FireEvent delivers a lifecycle event to every registered listener, for
// test setup.
func (f *Fake) FireEvent(ev Event) {
	f.listenersMu.Lock()
	listeners := make([]func(Event), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.listenersMu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

// FakeStarter is a Starter that hands out Fake instances and records the
// last LaunchInput it received, for test assertions.
type FakeStarter struct {
	mu         sync.Mutex
	LastInput  LaunchInput
	NextFake   *Fake
	StartErr   error
}

// Start implements Starter.
func (s *FakeStarter) Start(input LaunchInput) (LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastInput = input
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if s.NextFake != nil {
		return s.NextFake, nil
	}
	return NewFake(), nil
}

var _ LiveSession = (*Fake)(nil)
var _ Starter = (*FakeStarter)(nil)
