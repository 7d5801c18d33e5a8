// Package session owns every live session: the status engine, the
// controller-claim mutex, the attachment registry, and the tombstone timer
// wheel, generalized from a short-lived map+RWMutex session manager to a
// long-lived PTY-backed one with lifecycle callbacks.
package session

import (
	"sync"
	"time"

	"github.com/sessionbridge/daemon/pkg/pty"
)

// Status is the runtime status of a session.
type Status string

const (
	StatusRunning    Status = "running"
	StatusNeedsInput Status = "needs-input"
	StatusCompleted  Status = "completed"
	StatusExited     Status = "exited"
)

// Exit is the terminal exit record captured once a session transitions to
// StatusExited.
type Exit struct {
	Code   *int
	Signal *string
}

// Controller is the single connection currently permitted to mutate a
// session; absence (nil) means any authenticated connection may.
type Controller struct {
	ControllerID    string
	ControllerType  string
	ControllerLabel string
	ConnectionID    string
	ClaimedAt       time.Time
}

// StatusModel is the richer, opaque projection the UI consumes. The core
// regenerates it on every state-affecting input.
type StatusModel struct {
	AgentType      string
	Status         Status
	AttentionReason string
	LatestTelemetry map[string]any
}

// Diagnostics are the monotone counters tracked per session.
type Diagnostics struct {
	TelemetryIngestedTotal             uint64
	TelemetryRetainedTotal             uint64
	TelemetryDroppedTotal              uint64
	FanoutBytesEnqueuedTotal           uint64
	FanoutEventsEnqueuedTotal          uint64
	BackpressureSignalsTotal           uint64
	FanoutBackpressureDisconnectsTotal uint64
}

// Attachment is one connection's live subscription to a session's PTY
// output stream.
type Attachment struct {
	ConnectionID string
	AttachmentID string
}

// Session is the live counterpart of a persisted conversation.
type Session struct {
	mu sync.Mutex

	ID          string
	TenantID    string
	UserID      string
	WorkspaceID string
	DirectoryID *string
	WorktreeID  string
	AgentType   string

	Status          Status
	AttentionReason string
	LastEventAt     *time.Time
	LastExit        *Exit
	StartedAt       time.Time
	ExitedAt        *time.Time
	LatestCursor    uint64

	Controller *Controller

	AttachmentsByConnection    map[string]string // connectionId -> attachmentId
	EventSubscriberConnections map[string]bool

	AdapterState map[string]any

	Diagnostics Diagnostics

	StatusModelSnapshot StatusModel
	LastSnapshot        *pty.Snapshot

	Live          pty.LiveSession
	unsubscribe   func()
	tombstoneTimer *time.Timer
}

// NewSession constructs a fresh Session record in StatusRunning with no
// LiveSession attached (IsLive reports false until the caller assigns
// Live). The caller is responsible for registering it with a Runtime.
func NewSession(id string) *Session {
	return &Session{
		ID:                         id,
		Status:                     StatusRunning,
		StartedAt:                  time.Now(),
		AttachmentsByConnection:    make(map[string]string),
		EventSubscriberConnections: make(map[string]bool),
		AdapterState:               make(map[string]any),
	}
}

// IsLive reports whether the session still owns a PTY capability.
func (s *Session) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Live != nil
}

// Summary is the read-only projection returned by session.list/status.
type Summary struct {
	ID              string
	TenantID        string
	UserID          string
	WorkspaceID     string
	DirectoryID     *string
	AgentType       string
	Status          Status
	AttentionReason string
	LastEventAt     *time.Time
	LastExit        *Exit
	StartedAt       time.Time
	Live            bool
	Controller      *Controller
	StatusModel     StatusModel
}

func (s *Session) summary() Summary {
	var ctl *Controller
	if s.Controller != nil {
		c := *s.Controller
		ctl = &c
	}
	var exit *Exit
	if s.LastExit != nil {
		e := *s.LastExit
		exit = &e
	}
	return Summary{
		ID:              s.ID,
		TenantID:        s.TenantID,
		UserID:          s.UserID,
		WorkspaceID:     s.WorkspaceID,
		DirectoryID:     s.DirectoryID,
		AgentType:       s.AgentType,
		Status:          s.Status,
		AttentionReason: s.AttentionReason,
		LastEventAt:     s.LastEventAt,
		LastExit:        exit,
		StartedAt:       s.StartedAt,
		Live:            s.Live != nil,
		Controller:      ctl,
		StatusModel:     s.StatusModelSnapshot,
	}
}

// Summary returns a thread-safe read-only snapshot of the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary()
}
