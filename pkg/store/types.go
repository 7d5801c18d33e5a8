// Package store defines the persistence contract the session runtime
// depends on: the persistence operations the core invokes, not the
// storage schema itself. The runtime only ever talks to the StateStore
// interface; concrete backends (postgres, in-memory) live in sibling
// packages and are interchangeable.
package store

import "time"

// RuntimeStatus is the persisted counterpart of session.Status.
type RuntimeStatus string

const (
	RuntimeStatusRunning    RuntimeStatus = "running"
	RuntimeStatusNeedsInput RuntimeStatus = "needs-input"
	RuntimeStatusCompleted  RuntimeStatus = "completed"
	RuntimeStatusExited     RuntimeStatus = "exited"
)

// ExitRecord is the persisted shape of a PTY subprocess's terminal exit.
type ExitRecord struct {
	Code   *int    `json:"code,omitempty"`
	Signal *string `json:"signal,omitempty"`
}

// Conversation is the read-side contract the core consumes and writes back
// to. It is the durable twin of a live Session.
type Conversation struct {
	ConversationID          string
	DirectoryID             *string
	TenantID                string
	UserID                  string
	WorkspaceID             string
	AgentType               string
	Title                   string
	RuntimeStatus           RuntimeStatus
	RuntimeLastEventAt      *time.Time
	RuntimeAttentionReason  *string
	RuntimeLastExit         *ExitRecord
	AdapterState            map[string]any
	ArchivedAt              *time.Time
	CreatedAt               time.Time
}

// Directory is a workspace directory the daemon tracks for git-status
// refresh and conversation scoping.
type Directory struct {
	DirectoryID string
	TenantID    string
	WorkspaceID string
	Path        string
	ArchivedAt  *time.Time
}

// Repository is a reconciled git remote, keyed by normalized remote URL.
type Repository struct {
	RepositoryID string
	RemoteURL    string
	DirectoryID  string
}

// Task is a lightweight work item a directory/workspace tracks; the core
// only needs enough shape to publish task-* observed events and let
// `task.*` commands mutate it.
type Task struct {
	TaskID      string
	WorkspaceID string
	Title       string
	Status      string
	Position    int
}

// TelemetrySource identifies where a telemetry record originated.
type TelemetrySource string

const (
	TelemetrySourceHistory    TelemetrySource = "history"
	TelemetrySourceOTLPLog    TelemetrySource = "otlp-log"
	TelemetrySourceOTLPMetric TelemetrySource = "otlp-metric"
	TelemetrySourceOTLPTrace  TelemetrySource = "otlp-trace"
)

// TelemetryRecord is one ingested telemetry event, deduplicated by
// Fingerprint: every telemetry record carries a unique fingerprint.
type TelemetryRecord struct {
	Source           TelemetrySource
	SessionID        *string
	ProviderThreadID *string
	EventName        *string
	Severity         *string
	Summary          *string
	ObservedAt       time.Time
	Fingerprint      string
	Payload          map[string]any
}

// ExternalIntegrationSnapshot is the reconciled state of one PR-like item
// from a GitHub-style external-integration poller.
type ExternalIntegrationSnapshot struct {
	RepositoryID string
	Branch       string
	ExternalID   string
	Status       string
	Jobs         []ExternalJobSnapshot
	SyncedAt     time.Time
	LastError    *string
}

// ExternalJobSnapshot is one CI/check-run job attached to an external
// integration snapshot (e.g. a PR's status checks).
type ExternalJobSnapshot struct {
	JobID  string
	Name   string
	Status string
}
