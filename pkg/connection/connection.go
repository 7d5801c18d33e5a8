// Package connection owns each accepted TCP socket: the per-connection
// auth state machine, the read-side line buffering, and a bounded
// back-pressured write queue, with one owner goroutine per raw TCP
// connection driving its own write queue.
package connection

import (
	"bufio"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/sessionbridge/daemon/pkg/envelope"
)

// State is the per-connection auth state machine.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated    State = "authenticated"
	StateClosing          State = "closing"
)

// Conn is one authenticated (or authenticating) TCP link.
type Conn struct {
	ID    string
	State State

	mu             sync.Mutex
	socket         net.Conn
	remainder      []byte
	attachedSessionIDs    map[string]bool
	eventSubscribedIDs    map[string]bool
	streamSubscriptionIDs map[string]bool

	queue        [][]byte
	queuedBytes  int
	maxBufferedBytes int
	writeBlocked bool
	closed       bool

	log *slog.Logger
}

// NewConn wraps an accepted socket.
func NewConn(socket net.Conn, maxBufferedBytes int) *Conn {
	return &Conn{
		ID:                    uuid.New().String(),
		State:                 StateUnauthenticated,
		socket:                socket,
		attachedSessionIDs:    make(map[string]bool),
		eventSubscribedIDs:    make(map[string]bool),
		streamSubscriptionIDs: make(map[string]bool),
		maxBufferedBytes:      maxBufferedBytes,
		log:                   slog.Default().With("connection_id", ""),
	}
}

// ReadLoop reads newline-delimited JSON, feeding complete lines to onLine,
// until the socket closes or onLine signals destroy. It owns the
// connection's remainder buffer exclusively.
func (c *Conn) ReadLoop(onLine func(env envelope.Envelope)) {
	reader := bufio.NewReaderSize(c.socket, 64*1024)
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 4096)

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			result := envelope.ConsumeJSONLines(buf)
			for _, env := range result.Messages {
				onLine(env)
			}
			buf = result.Remainder
		}
		if err != nil {
			return
		}
	}
}

// Send queues env for delivery on this connection. The payload is
// encoded, its byte length charged to queuedBytes, and pushed onto the
// queue; if the buffer ceiling is exceeded the connection is destroyed
// and ok is false. blocked reports whether the write queue was already
// stalled on a slow reader when this call ran, and size is the encoded
// payload's byte length (0 when the envelope was dropped or rejected).
func (c *Conn) Send(env envelope.Envelope) (ok bool, blocked bool, size int) {
	payload, err := envelope.Encode(env)
	if err != nil {
		return true, false, 0 // malformed outbound envelope is dropped, not fatal
	}
	size = len(payload)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return true, false, 0
	}
	if c.queuedBytes+len(payload) > c.maxBufferedBytes {
		c.mu.Unlock()
		c.Destroy()
		return false, false, size
	}
	c.queue = append(c.queue, payload)
	c.queuedBytes += len(payload)
	c.mu.Unlock()

	c.flush()

	c.mu.Lock()
	blocked = c.writeBlocked
	c.mu.Unlock()
	return true, blocked, size
}

// flush drains the queue with synchronous socket writes; a write that
// would block sets writeBlocked and stops draining until an explicit Drain
// call; later Sends only queue while writeBlocked is set.
func (c *Conn) flush() {
	c.mu.Lock()
	if c.writeBlocked || c.closed {
		c.mu.Unlock()
		return
	}
	for len(c.queue) > 0 {
		payload := c.queue[0]
		c.mu.Unlock()
		_, err := c.socket.Write(payload)
		c.mu.Lock()
		if err != nil {
			c.writeBlocked = true
			break
		}
		c.queue = c.queue[1:]
		c.queuedBytes -= len(payload)
	}
	c.mu.Unlock()
}

// Drain clears writeBlocked and resumes flushing; called after the socket
// reports it is writable again.
func (c *Conn) Drain() {
	c.mu.Lock()
	c.writeBlocked = false
	c.mu.Unlock()
	c.flush()
}

// Destroy closes the underlying socket and marks the connection closing.
func (c *Conn) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.State = StateClosing
	c.mu.Unlock()
	_ = c.socket.Close()
}

// Authenticate transitions to StateAuthenticated.
func (c *Conn) Authenticate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.State = StateAuthenticated
}

// IsAuthenticated reports whether the connection has completed auth.
func (c *Conn) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State == StateAuthenticated
}

// IsClosing reports whether the connection has been torn down.
func (c *Conn) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State == StateClosing
}

// TrackAttachment/TrackEventSubscription/TrackStreamSubscription record ids
// this connection owns, so a Manager can unwind them on shutdown.
func (c *Conn) TrackAttachment(sessionID string)          { c.track(c.attachedSessionIDs, sessionID) }
func (c *Conn) UntrackAttachment(sessionID string)         { c.untrack(c.attachedSessionIDs, sessionID) }
func (c *Conn) TrackEventSubscription(sessionID string)    { c.track(c.eventSubscribedIDs, sessionID) }
func (c *Conn) UntrackEventSubscription(sessionID string)   { c.untrack(c.eventSubscribedIDs, sessionID) }
func (c *Conn) TrackStreamSubscription(subID string)        { c.track(c.streamSubscriptionIDs, subID) }
func (c *Conn) UntrackStreamSubscription(subID string)      { c.untrack(c.streamSubscriptionIDs, subID) }

func (c *Conn) track(set map[string]bool, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set[id] = true
}

func (c *Conn) untrack(set map[string]bool, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(set, id)
}

// AttachedSessionIDs/EventSubscribedIDs/StreamSubscriptionIDs return a
// point-in-time copy, for shutdown unwinding.
func (c *Conn) AttachedSessionIDs() []string    { return keys(c.snapshotSet(c.attachedSessionIDs)) }
func (c *Conn) EventSubscribedIDs() []string    { return keys(c.snapshotSet(c.eventSubscribedIDs)) }
func (c *Conn) StreamSubscriptionIDs() []string { return keys(c.snapshotSet(c.streamSubscriptionIDs)) }

func (c *Conn) snapshotSet(set map[string]bool) map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]bool, len(set))
	for k := range set {
		cp[k] = true
	}
	return cp
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
