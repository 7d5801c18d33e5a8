package poller

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sessionbridge/daemon/pkg/telemetry"
)

const historyJitterFactor = 0.35

// HistoryTailer incrementally reads a codex history file and routes new
// lines through the telemetry ingest pipeline without driving the status
// engine.
type HistoryTailer struct {
	Path      string
	SessionID string
	Interval  time.Duration
	Ingest    *telemetry.Service

	mu         sync.Mutex
	offset     int64
	remainder  string
	idleStreak int

	stop chan struct{}
}

// NewHistoryTailer constructs a HistoryTailer for one session's history
// file.
func NewHistoryTailer(path, sessionID string, interval time.Duration, ingest *telemetry.Service) *HistoryTailer {
	return &HistoryTailer{Path: path, SessionID: sessionID, Interval: interval, Ingest: ingest}
}

// Start runs the self-rescheduling poll loop until ctx is canceled or Stop
// is called.
func (h *HistoryTailer) Start(ctx context.Context) {
	h.stop = make(chan struct{})
	go h.loop(ctx)
}

// Stop ends the poll loop.
func (h *HistoryTailer) Stop() {
	if h.stop != nil {
		close(h.stop)
	}
}

func (h *HistoryTailer) loop(ctx context.Context) {
	delay := h.Interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-time.After(delay):
		}
		nonEmpty, err := h.Tick(ctx)
		delay = h.nextDelay(nonEmpty, err)
	}
}

// Tick performs one poll cycle: open the file, detect truncation, read the
// newly appended bytes, split on newline, and route each complete line
// through the ingest pipeline. Returns whether the poll produced any
// complete lines.
func (h *HistoryTailer) Tick(ctx context.Context) (nonEmpty bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.Path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	size := info.Size()

	truncated := size < h.offset
	if !truncated && h.offset > 0 {
		prevByte := make([]byte, 1)
		if _, rerr := f.ReadAt(prevByte, h.offset-1); rerr == nil && prevByte[0] != '\n' {
			truncated = true
		}
	}
	if truncated {
		h.offset = 0
		h.remainder = ""
	}

	if size <= h.offset {
		return false, nil
	}

	buf := make([]byte, size-h.offset)
	if _, rerr := f.ReadAt(buf, h.offset); rerr != nil {
		return false, rerr
	}
	h.offset = size

	text := h.remainder + string(buf)
	lines := strings.Split(text, "\n")
	h.remainder = lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	if len(lines) == 0 {
		return false, nil
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev := telemetry.ParseHistoryLine(line, historyEventName(line), historyPayload(line))
		h.Ingest.Ingest(ctx, h.SessionID, []telemetry.ParsedEvent{ev}, false)
	}
	return true, nil
}

// historyEventName and historyPayload extract what they can from a history
// line, which is itself a JSON object for the codex CLI's history format.
// Lines that fail to parse as JSON still get routed through with a generic
// event name rather than being dropped.
func historyEventName(line string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err == nil {
		if name, ok := obj["type"].(string); ok && name != "" {
			return name
		}
		if name, ok := obj["event"].(string); ok && name != "" {
			return name
		}
	}
	return "history.line"
}

func historyPayload(line string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err == nil {
		return obj
	}
	return map[string]any{"raw": line}
}

// nextDelay implements the tailer's scheduling formula: a successful
// non-empty poll resumes at Interval×jitter; an empty poll or error grows
// idleStreak (capped at 4) and delays min(60s, Interval×2^idleStreak)×jitter.
func (h *HistoryTailer) nextDelay(nonEmpty bool, err error) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil && nonEmpty {
		h.idleStreak = 0
		return jitter(h.Interval, historyJitterFactor)
	}

	if h.idleStreak < 4 {
		h.idleStreak++
	}
	delay := h.Interval * time.Duration(int64(1)<<uint(h.idleStreak))
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return jitter(delay, historyJitterFactor)
}
