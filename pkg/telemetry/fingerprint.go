package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sessionbridge/daemon/pkg/store"
)

// Fingerprint computes the stable hash store.TelemetryRecord.Fingerprint is
// keyed by: a stable hash over (source, sessionId, providerThreadId,
// eventName, observedAt, payload). encoding/json sorts map keys when
// marshaling, so the payload's contribution is deterministic regardless
// of map iteration order.
func Fingerprint(ev ParsedEvent, sessionID string) string {
	payload, _ := json.Marshal(ev.Payload)
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		ev.Source, sessionID, ev.ProviderThreadID, ev.EventName, ev.ObservedAt.UnixNano(), payload)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// toTelemetryRecord builds the store-bound record for a retained event.
func toTelemetryRecord(ev ParsedEvent, sessionID string) *store.TelemetryRecord {
	rec := &store.TelemetryRecord{
		Source:     ev.Source,
		ObservedAt: ev.ObservedAt,
		Payload:    ev.Payload,
	}
	if sessionID != "" {
		id := sessionID
		rec.SessionID = &id
	}
	if ev.ProviderThreadID != "" {
		id := ev.ProviderThreadID
		rec.ProviderThreadID = &id
	}
	if ev.EventName != "" {
		name := ev.EventName
		rec.EventName = &name
	}
	if ev.Severity != "" {
		sev := ev.Severity
		rec.Severity = &sev
	}
	if ev.Summary != "" {
		summary := ev.Summary
		rec.Summary = &summary
	}
	rec.Fingerprint = Fingerprint(ev, sessionID)
	return rec
}
