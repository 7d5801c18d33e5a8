package session

import "time"

// applyPTYEvent drives the status engine from a PTY lifecycle event.
// Call sites hold s.mu.
func (s *Session) applyPTYEvent(kind string, reason string, exit *Exit) {
	now := time.Now()
	s.LastEventAt = &now

	switch kind {
	case "attention-required":
		s.Status = StatusNeedsInput
		s.AttentionReason = reason
	case "turn-completed":
		s.Status = StatusCompleted
		s.AttentionReason = ""
	case "session-exit":
		s.Status = StatusExited
		s.AttentionReason = ""
		s.LastExit = exit
		s.ExitedAt = &now
	}
	s.projectStatusModel()
}

// applyTelemetryKeyEvent applies a telemetry-sourced statusHint. Only the
// two defined literals have effect; anything else (including an empty
// string) is a documented no-op. History replay events must never reach
// this path (callers gate that upstream).
func (s *Session) applyTelemetryKeyEvent(statusHint string, payload map[string]any) {
	if s.Status == StatusExited {
		return
	}
	switch statusHint {
	case "needs-input":
		s.Status = StatusNeedsInput
	case "running":
		s.Status = StatusRunning
		s.AttentionReason = ""
	default:
		return
	}
	now := time.Now()
	s.LastEventAt = &now
	if s.StatusModelSnapshot.LatestTelemetry == nil {
		s.StatusModelSnapshot.LatestTelemetry = make(map[string]any)
	}
	for k, v := range payload {
		s.StatusModelSnapshot.LatestTelemetry[k] = v
	}
	s.projectStatusModel()
}

// applyCommandForceRunning implements session.respond/session.interrupt's
// shared effect: force running and clear attentionReason.
func (s *Session) applyCommandForceRunning() {
	if s.Status == StatusExited {
		return
	}
	s.Status = StatusRunning
	s.AttentionReason = ""
	now := time.Now()
	s.LastEventAt = &now
	s.projectStatusModel()
}

// projectStatusModel regenerates the opaque UI-facing projection from
// (agentType, runtimeStatus, attentionReason, latestTelemetry, previousModel).
// Call sites hold s.mu.
func (s *Session) projectStatusModel() {
	latest := s.StatusModelSnapshot.LatestTelemetry
	s.StatusModelSnapshot = StatusModel{
		AgentType:       s.AgentType,
		Status:          s.Status,
		AttentionReason: s.AttentionReason,
		LatestTelemetry: latest,
	}
}
