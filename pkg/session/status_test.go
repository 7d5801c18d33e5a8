package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyTelemetryKeyEventIgnoresUndefinedHints(t *testing.T) {
	s := NewSession("s1")
	s.Status = StatusRunning

	s.applyTelemetryKeyEvent("", nil)
	assert.Equal(t, StatusRunning, s.Status)

	s.applyTelemetryKeyEvent("some-other-hint", nil)
	assert.Equal(t, StatusRunning, s.Status)

	s.applyTelemetryKeyEvent("needs-input", nil)
	assert.Equal(t, StatusNeedsInput, s.Status)

	s.applyTelemetryKeyEvent("running", nil)
	assert.Equal(t, StatusRunning, s.Status)
}

func TestApplyTelemetryKeyEventNoopOnceExited(t *testing.T) {
	s := NewSession("s1")
	s.Status = StatusExited

	s.applyTelemetryKeyEvent("running", nil)
	assert.Equal(t, StatusExited, s.Status)
}

func TestApplyPTYEventTransitions(t *testing.T) {
	s := NewSession("s1")
	s.applyPTYEvent("attention-required", "waiting on input", nil)
	assert.Equal(t, StatusNeedsInput, s.Status)
	assert.Equal(t, "waiting on input", s.AttentionReason)

	s.applyPTYEvent("turn-completed", "", nil)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Empty(t, s.AttentionReason)

	code := 1
	s.applyPTYEvent("session-exit", "", &Exit{Code: &code})
	assert.Equal(t, StatusExited, s.Status)
	assert.NotNil(t, s.LastExit)
	assert.Equal(t, 1, *s.LastExit.Code)
}

func TestApplyCommandForceRunningClearsAttentionReason(t *testing.T) {
	s := NewSession("s1")
	s.Status = StatusNeedsInput
	s.AttentionReason = "waiting"

	s.applyCommandForceRunning()
	assert.Equal(t, StatusRunning, s.Status)
	assert.Empty(t, s.AttentionReason)
}
