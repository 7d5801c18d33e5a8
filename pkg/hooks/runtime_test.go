package hooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbridge/daemon/pkg/journal"
)

func statusEntry(sessionID, status string, at time.Time) journal.Entry {
	return journal.Entry{
		Cursor: 1,
		Scope:  journal.Scope{ConversationID: sessionID},
		Event:  journal.Event{Kind: journal.KindSessionStatus, Status: status},
		At:     at,
	}
}

type captureServer struct {
	mu       sync.Mutex
	requests []map[string]any
	srv      *httptest.Server
}

func newCaptureServer() *captureServer {
	c := &captureServer{}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.requests = append(c.requests, body)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return c
}

func (c *captureServer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestRuntimeDispatchesNormalizedEventToWebhook(t *testing.T) {
	srv := newCaptureServer()
	defer srv.srv.Close()

	r := New([]string{srv.srv.URL}, 16, 250*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Stop()

	r.Handle(statusEntry("sess-1", "needs-input", time.Now()))

	waitFor(t, time.Second, func() bool { return srv.count() == 1 })
	assert.Equal(t, "input.required", srv.requests[0]["event"])
	assert.Equal(t, "sess-1", srv.requests[0]["sessionId"])
}

func TestRuntimeSkipsUnmappedEntryKinds(t *testing.T) {
	srv := newCaptureServer()
	defer srv.srv.Close()

	r := New([]string{srv.srv.URL}, 16, 250*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Stop()

	r.Handle(journal.Entry{
		Scope: journal.Scope{ConversationID: "sess-1"},
		Event: journal.Event{Kind: journal.KindSessionOutput},
		At:    time.Now(),
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, srv.count())
}

func TestRuntimeDedupesWithinWindow(t *testing.T) {
	srv := newCaptureServer()
	defer srv.srv.Close()

	r := New([]string{srv.srv.URL}, 16, 250*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Stop()

	now := time.Now()
	r.Handle(statusEntry("sess-1", "needs-input", now))
	r.Handle(statusEntry("sess-1", "needs-input", now))

	waitFor(t, time.Second, func() bool { return srv.count() >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, srv.count())
}

func TestRuntimeSkipsDisabledProvider(t *testing.T) {
	srv := newCaptureServer()
	defer srv.srv.Close()

	r := New([]string{srv.srv.URL}, 16, 250*time.Millisecond, time.Second)
	r.DisableProvider(ProviderCodex)
	r.SetProviderLookup(func(string) Provider { return ProviderCodex })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Stop()

	r.Handle(statusEntry("sess-1", "needs-input", time.Now()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, srv.count())
}

func TestRuntimeDropsOldestWhenQueueFull(t *testing.T) {
	// No webhook URLs and no Run loop, so pushes accumulate without draining.
	r := New(nil, 2, 0, time.Second)

	now := time.Now()
	r.Handle(statusEntry("sess-1", "running", now))
	r.Handle(statusEntry("sess-1", "completed", now.Add(time.Second)))
	r.Handle(statusEntry("sess-1", "exited", now.Add(2*time.Second)))

	assert.Equal(t, 2, r.queue.Len())
	first, ok := r.queue.Pop()
	require.True(t, ok)
	assert.Equal(t, EventTurnCompleted, first.Name)
}

func TestRuntimeNilWebhookListDrainsAsNoOp(t *testing.T) {
	r := New(nil, 16, 0, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Stop()

	r.Handle(statusEntry("sess-1", "needs-input", time.Now()))
	waitFor(t, time.Second, func() bool { return r.queue.Len() == 0 })
}
