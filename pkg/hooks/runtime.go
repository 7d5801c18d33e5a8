package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sessionbridge/daemon/pkg/journal"
)

// Runtime is the lifecycle-hooks runtime: normalize, dedupe, bounded FIFO
// queue, single-flighted webhook drain. Nil-safe: a Runtime constructed
// with no webhook URLs accepts entries and drains them as no-ops.
type Runtime struct {
	queue           *fifoQueue
	dedupe          *dedupeWindow
	webhookURLs     []string
	httpClient      *http.Client
	dispatchTimeout time.Duration

	mu                sync.RWMutex
	disabledProviders map[Provider]bool
	providerLookup    func(sessionID string) Provider

	wakeCh chan struct{}
	stopCh chan struct{}

	log *slog.Logger
}

// New constructs a Runtime. queueLimit<=0 defaults to 2048.
func New(webhookURLs []string, queueLimit int, dedupeWindowDur, dispatchTimeout time.Duration) *Runtime {
	return &Runtime{
		queue:             newFIFOQueue(queueLimit),
		dedupe:            newDedupeWindow(dedupeWindowDur),
		webhookURLs:       webhookURLs,
		httpClient:        &http.Client{Timeout: dispatchTimeout},
		dispatchTimeout:   dispatchTimeout,
		disabledProviders: make(map[Provider]bool),
		wakeCh:            make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
		log:               slog.Default(),
	}
}

// SetProviderLookup wires a session-id -> Provider resolver used for
// events whose taxonomy mapping carries no provider prefix of its own.
func (r *Runtime) SetProviderLookup(lookup func(sessionID string) Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providerLookup = lookup
}

// DisableProvider skips every event from p.
func (r *Runtime) DisableProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabledProviders[p] = true
}

func (r *Runtime) providerDisabled(p Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabledProviders[p]
}

func (r *Runtime) lookupProvider() func(string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providerLookup
}

// Handle is the sink passed to journal.Journal.SetHooksSink: every
// published observed event is offered to the runtime here.
func (r *Runtime) Handle(entry journal.Entry) {
	events, ok := Normalize(entry, r.lookupProvider())
	if !ok {
		return
	}
	for _, ev := range events {
		if r.providerDisabled(ev.Provider) {
			continue
		}
		if r.dedupe.Seen(ev.SessionID, ev.Name, time.Now()) {
			continue
		}
		if r.queue.Push(ev) {
			r.log.Warn("hooks queue full, dropped oldest event")
		}
	}
	if len(events) > 0 {
		r.signal()
	}
}

func (r *Runtime) signal() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// Run starts the single-flighted drain loop; it returns when ctx is
// canceled or Stop is called.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-r.wakeCh:
			r.drain(ctx)
		}
	}
}

// Stop ends the drain loop.
func (r *Runtime) Stop() {
	close(r.stopCh)
}

// drain dispatches every currently queued event. Per-dispatch failures are
// logged but never propagate.
func (r *Runtime) drain(ctx context.Context) {
	for {
		ev, ok := r.queue.Pop()
		if !ok {
			return
		}
		if len(r.webhookURLs) == 0 {
			continue
		}
		for _, url := range r.webhookURLs {
			if err := r.dispatch(ctx, url, ev); err != nil {
				r.log.Warn("webhook dispatch failed", "url", url, "event", ev.Name, "session_id", ev.SessionID, "error", err)
			}
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, url string, ev HookEvent) error {
	dctx, cancel := context.WithTimeout(ctx, r.dispatchTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"event":     ev.Name,
		"sessionId": ev.SessionID,
		"provider":  ev.Provider,
		"payload":   ev.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(dctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", url, resp.StatusCode)
	}
	return nil
}
