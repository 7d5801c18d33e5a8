package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sessionbridge/daemon/pkg/store"
)

// StatusApplier is the slice of session.Runtime the ingest path depends on.
// Accepting the narrow interface (rather than importing pkg/session
// directly) keeps telemetry testable with a fake and avoids coupling the
// ingest path to the full runtime surface.
type StatusApplier interface {
	ApplyTelemetryKeyEvent(ctx context.Context, sessionID, statusHint, eventName string, payload map[string]any) bool
	PublishPromptEvent(sessionID, summary string) bool
	ReconcileCodexResumeSessionID(ctx context.Context, sessionID, providerThreadID string) bool
	RecordTelemetryDiagnostics(sessionID string, ingested, retained, dropped uint64)
	HasSession(sessionID string) bool
}

// Service implements the retain/store/dedupe/reconcile/status pipeline
// shared by OTLP HTTP ingest and the history tailer.
type Service struct {
	store   store.StateStore
	runtime StatusApplier
	dedupe  *PromptDedupe
	mode    ParserMode
	log     *slog.Logger
}

// NewService constructs a Service. mode selects lifecycle-fast or full
// retention for every event this Service ingests.
func NewService(st store.StateStore, runtime StatusApplier, mode ParserMode) *Service {
	return &Service{
		store:   st,
		runtime: runtime,
		dedupe:  NewPromptDedupe(),
		mode:    mode,
		log:     slog.Default(),
	}
}

// Ingest runs events through the retain/store/dedupe/reconcile/status-feed
// pipeline for sessionID. applyStatusHint is false for history replay,
// which must not drive the status engine.
func (s *Service) Ingest(ctx context.Context, sessionID string, events []ParsedEvent, applyStatusHint bool) {
	var ingested, retained, dropped uint64
	for _, ev := range events {
		ingested++
		if !ev.Retain(s.mode) {
			dropped++
			continue
		}

		if s.store != nil {
			rec := toTelemetryRecord(ev, sessionID)
			err := s.store.AppendTelemetry(ctx, rec)
			if err != nil {
				dropped++
				if !errors.Is(err, store.ErrAlreadyExists) {
					s.log.Warn("append telemetry failed", "session_id", sessionID, "error", err)
				}
				continue
			}
		}
		retained++

		if summary, ok := extractPrompt(ev); ok {
			key := DedupeKey(sessionID, ev.ObservedAt, summary)
			if !s.dedupe.Seen(key) {
				s.runtime.PublishPromptEvent(sessionID, summary)
			}
		}

		if ev.ProviderThreadID != "" {
			s.runtime.ReconcileCodexResumeSessionID(ctx, sessionID, ev.ProviderThreadID)
		}

		if applyStatusHint {
			s.runtime.ApplyTelemetryKeyEvent(ctx, sessionID, ev.StatusHint, ev.EventName, ev.Payload)
		}
	}
	s.runtime.RecordTelemetryDiagnostics(sessionID, ingested, retained, dropped)
}

// extractPrompt recognizes a codex.user_prompt event and extracts its
// summary text.
func extractPrompt(ev ParsedEvent) (summary string, ok bool) {
	if ev.EventName != "codex.user_prompt" {
		return "", false
	}
	if ev.Summary != "" {
		return ev.Summary, true
	}
	if text, found := ev.Payload["prompt"].(string); found && strings.TrimSpace(text) != "" {
		return text, true
	}
	return "", false
}
