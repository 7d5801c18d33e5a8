package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbridge/daemon/pkg/store"
)

type fakeApplier struct {
	sessions       map[string]bool
	keyEvents      []string
	promptEvents   []string
	reconciled     []string
	ingested       uint64
	retained       uint64
	dropped        uint64
}

func newFakeApplier(sessionIDs ...string) *fakeApplier {
	f := &fakeApplier{sessions: make(map[string]bool)}
	for _, id := range sessionIDs {
		f.sessions[id] = true
	}
	return f
}

func (f *fakeApplier) ApplyTelemetryKeyEvent(_ context.Context, sessionID, statusHint, eventName string, _ map[string]any) bool {
	f.keyEvents = append(f.keyEvents, sessionID+":"+statusHint+":"+eventName)
	return f.sessions[sessionID]
}

func (f *fakeApplier) PublishPromptEvent(sessionID, summary string) bool {
	f.promptEvents = append(f.promptEvents, summary)
	return f.sessions[sessionID]
}

func (f *fakeApplier) ReconcileCodexResumeSessionID(_ context.Context, sessionID, providerThreadID string) bool {
	f.reconciled = append(f.reconciled, sessionID+":"+providerThreadID)
	return f.sessions[sessionID]
}

func (f *fakeApplier) RecordTelemetryDiagnostics(_ string, ingested, retained, dropped uint64) {
	f.ingested += ingested
	f.retained += retained
	f.dropped += dropped
}

func (f *fakeApplier) HasSession(sessionID string) bool { return f.sessions[sessionID] }

func TestTokenRegistryResolveAndRevoke(t *testing.T) {
	reg := NewTokenRegistry()
	reg.Register("tok1", "sess1")

	id, ok := reg.Resolve("tok1")
	require.True(t, ok)
	assert.Equal(t, "sess1", id)

	reg.RevokeSession("sess1")
	_, ok = reg.Resolve("tok1")
	assert.False(t, ok)
}

func TestParsedEventRetainLifecycleFast(t *testing.T) {
	lifecycle := ParsedEvent{EventName: "codex.user_prompt"}
	assert.True(t, lifecycle.Retain(ParserModeLifecycleFast))

	hinted := ParsedEvent{StatusHint: "needs-input"}
	assert.True(t, hinted.Retain(ParserModeLifecycleFast))

	other := ParsedEvent{EventName: "some.other.event"}
	assert.False(t, other.Retain(ParserModeLifecycleFast))
	assert.True(t, other.Retain(ParserModeFull))
}

func TestFingerprintStableAcrossPayloadKeyOrder(t *testing.T) {
	ev1 := ParsedEvent{
		Source:     store.TelemetrySourceOTLPLog,
		EventName:  "codex.user_prompt",
		ObservedAt: time.Unix(100, 0),
		Payload:    map[string]any{"a": 1, "b": 2},
	}
	ev2 := ev1
	ev2.Payload = map[string]any{"b": 2, "a": 1}

	assert.Equal(t, Fingerprint(ev1, "sess1"), Fingerprint(ev2, "sess1"))
}

func TestPromptDedupeSuppressesWithinTTL(t *testing.T) {
	d := NewPromptDedupe()
	key := DedupeKey("sess1", time.Now(), "hash1")

	assert.False(t, d.Seen(key))
	assert.True(t, d.Seen(key))
}

func TestServiceIngestDropsNonLifecycleEventsInFastMode(t *testing.T) {
	applier := newFakeApplier("sess1")
	svc := NewService(store.NewMemory(), applier, ParserModeLifecycleFast)

	events := []ParsedEvent{
		{Source: store.TelemetrySourceOTLPLog, EventName: "noise", ObservedAt: time.Now()},
		{Source: store.TelemetrySourceOTLPLog, EventName: "codex.user_prompt", Summary: "hello", ObservedAt: time.Now()},
	}
	svc.Ingest(context.Background(), "sess1", events, true)

	assert.Equal(t, uint64(2), applier.ingested)
	assert.Equal(t, uint64(1), applier.retained)
	assert.Equal(t, uint64(1), applier.dropped)
	require.Len(t, applier.promptEvents, 1)
	assert.Equal(t, "hello", applier.promptEvents[0])
}

func TestServiceIngestDropsDuplicateFingerprint(t *testing.T) {
	applier := newFakeApplier("sess1")
	svc := NewService(store.NewMemory(), applier, ParserModeFull)

	ev := ParsedEvent{Source: store.TelemetrySourceOTLPLog, EventName: "codex.conversation_starts", ObservedAt: time.Unix(1, 0)}
	svc.Ingest(context.Background(), "sess1", []ParsedEvent{ev}, true)
	svc.Ingest(context.Background(), "sess1", []ParsedEvent{ev}, true)

	assert.Equal(t, uint64(2), applier.ingested)
	assert.Equal(t, uint64(1), applier.retained)
	assert.Equal(t, uint64(1), applier.dropped)
}

func TestServiceIngestReconcilesProviderThreadID(t *testing.T) {
	applier := newFakeApplier("sess1")
	svc := NewService(store.NewMemory(), applier, ParserModeFull)

	ev := ParsedEvent{Source: store.TelemetrySourceOTLPLog, EventName: "codex.turn.e2e_duration_ms", ProviderThreadID: "thread-1", ObservedAt: time.Now()}
	svc.Ingest(context.Background(), "sess1", []ParsedEvent{ev}, true)

	require.Len(t, applier.reconciled, 1)
	assert.Equal(t, "sess1:thread-1", applier.reconciled[0])
}

func TestServiceIngestHistoryDoesNotApplyStatusHint(t *testing.T) {
	applier := newFakeApplier("sess1")
	svc := NewService(store.NewMemory(), applier, ParserModeFull)

	ev := ParseHistoryLine("some line", "codex.user_prompt", map[string]any{"prompt": "hi"})
	svc.Ingest(context.Background(), "sess1", []ParsedEvent{ev}, false)

	assert.Empty(t, applier.keyEvents)
}
