package hooks

import (
	"strings"

	"github.com/sessionbridge/daemon/pkg/journal"
)

// Normalize maps an observed-event journal entry to zero or more external
// hook taxonomy events. providerLookup resolves a session's agent kind for
// events that carry no event-name prefix of their own; it may be nil.
// Returns ok=false for entry kinds the external taxonomy has no mapping
// for (session-output, session-control, task-*, repository-*, github-*).
//
// A session-exit transition yields two events when the exit was abnormal:
// the unconditional session.exited, followed by turn.failed.
func Normalize(entry journal.Entry, providerLookup func(sessionID string) Provider) ([]HookEvent, bool) {
	sessionID := entry.Scope.ConversationID

	switch entry.Event.Kind {
	case journal.KindSessionStatus:
		name, ok := sessionStatusEventName(entry.Event.Status)
		if !ok {
			return nil, false
		}
		provider := resolveProvider(sessionID, "", providerLookup)
		events := []HookEvent{{
			Name:       name,
			SessionID:  sessionID,
			Provider:   provider,
			OccurredAt: entry.At.UnixNano(),
			Payload:    map[string]any{"status": entry.Event.Status, "attentionReason": entry.Event.AttentionReason},
		}}
		if entry.Event.Status == "exited" && abnormalExit(entry.Event.Exit) {
			events = append(events, HookEvent{
				Name:       EventTurnFailed,
				SessionID:  sessionID,
				Provider:   provider,
				OccurredAt: entry.At.UnixNano(),
				Payload:    exitPayload(entry.Event.Exit),
			})
		}
		return events, true

	case journal.KindSessionKeyEvent:
		name, ok := keyEventName(entry.Event.KeyEventName)
		if !ok {
			return nil, false
		}
		return []HookEvent{{
			Name:       name,
			SessionID:  sessionID,
			Provider:   resolveProvider(sessionID, entry.Event.KeyEventName, providerLookup),
			OccurredAt: entry.At.UnixNano(),
			Payload:    entry.Event.Payload,
		}}, true

	case journal.KindConversationCreated:
		return []HookEvent{{Name: EventThreadCreated, SessionID: sessionID, Provider: resolveProvider(sessionID, "", providerLookup), OccurredAt: entry.At.UnixNano()}}, true
	case journal.KindConversationUpdated:
		return []HookEvent{{Name: EventThreadUpdated, SessionID: sessionID, Provider: resolveProvider(sessionID, "", providerLookup), OccurredAt: entry.At.UnixNano()}}, true
	case journal.KindConversationArchived:
		return []HookEvent{{Name: EventThreadArchived, SessionID: sessionID, Provider: resolveProvider(sessionID, "", providerLookup), OccurredAt: entry.At.UnixNano()}}, true
	case journal.KindConversationDeleted:
		return []HookEvent{{Name: EventThreadDeleted, SessionID: sessionID, Provider: resolveProvider(sessionID, "", providerLookup), OccurredAt: entry.At.UnixNano()}}, true

	default:
		return nil, false
	}
}

func abnormalExit(exit *journal.EventExit) bool {
	if exit == nil {
		return false
	}
	return (exit.Code != nil && *exit.Code != 0) || exit.Signal != nil
}

func exitPayload(exit *journal.EventExit) map[string]any {
	out := map[string]any{}
	if exit == nil {
		return out
	}
	if exit.Code != nil {
		out["code"] = *exit.Code
	}
	if exit.Signal != nil {
		out["signal"] = *exit.Signal
	}
	return out
}

func sessionStatusEventName(status string) (EventName, bool) {
	switch status {
	case "needs-input":
		return EventInputRequired, true
	case "completed":
		return EventTurnCompleted, true
	case "exited":
		return EventSessionExited, true
	case "running":
		return EventTurnStarted, true
	default:
		return "", false
	}
}

// keyEventName maps a telemetry key-event name to the tool/turn taxonomy by
// suffix, since codex's event names are namespaced as "codex.<action>".
func keyEventName(raw string) (EventName, bool) {
	switch {
	case strings.HasSuffix(raw, "tool_start") || strings.Contains(raw, "tool.start"):
		return EventToolStarted, true
	case strings.HasSuffix(raw, "tool_end") || strings.Contains(raw, "tool.complete"):
		return EventToolCompleted, true
	case strings.HasSuffix(raw, "tool_error") || strings.Contains(raw, "tool.failed"):
		return EventToolFailed, true
	case strings.Contains(raw, "turn.failed") || strings.HasSuffix(raw, "turn_failed"):
		return EventTurnFailed, true
	case raw == "codex.user_prompt":
		return EventTurnStarted, true
	default:
		return "", false
	}
}

func resolveProvider(sessionID, eventName string, lookup func(string) Provider) Provider {
	switch {
	case strings.HasPrefix(eventName, "codex."):
		return ProviderCodex
	case strings.HasPrefix(eventName, "claude."):
		return ProviderClaude
	case strings.HasPrefix(eventName, "cursor."):
		return ProviderCursor
	}
	if lookup != nil {
		return lookup(sessionID)
	}
	return ProviderUnknown
}
