// Package journal implements the observed-event ring buffer and its
// subscription fan-out: an in-process ring buffer with replay-by-cursor,
// since the daemon runs as a single process.
package journal

import "time"

// Kind is the closed set of observed-event kinds.
type Kind string

const (
	KindSessionStatus          Kind = "session-status"
	KindSessionOutput          Kind = "session-output"
	KindSessionEvent           Kind = "session-event"
	KindSessionKeyEvent        Kind = "session-key-event"
	KindSessionPromptEvent     Kind = "session-prompt-event"
	KindSessionControl         Kind = "session-control"
	KindConversationCreated    Kind = "conversation-created"
	KindConversationUpdated    Kind = "conversation-updated"
	KindConversationArchived   Kind = "conversation-archived"
	KindConversationDeleted    Kind = "conversation-deleted"
	KindDirectoryUpserted      Kind = "directory-upserted"
	KindDirectoryArchived      Kind = "directory-archived"
	KindTaskCreated            Kind = "task-created"
	KindTaskUpdated            Kind = "task-updated"
	KindTaskReordered          Kind = "task-reordered"
	KindRepositoryUpserted     Kind = "repository-upserted"
	KindGithubPRUpserted       Kind = "github-pr-upserted"
	KindGithubPRClosed         Kind = "github-pr-closed"
	KindGithubPRJobsUpdated    Kind = "github-pr-jobs-updated"
	KindDirectoryGitUpdated    Kind = "directory-git-updated"
)

// Scope is the (tenant, user, workspace, directory?, conversation?) tuple
// attached to every observed event, per the GLOSSARY.
type Scope struct {
	TenantID       string
	UserID         string
	WorkspaceID    string
	DirectoryID    string
	ConversationID string
	RepositoryID   string
	TaskIDs        []string
}

// Event is one observed-event payload. Fields not applicable to Kind are
// left zero; the dispatcher at the publish site only sets what applies.
type Event struct {
	Kind Kind

	Status          string // session-status
	AttentionReason string
	Exit            *EventExit

	OutputCursor uint64 // session-output
	OutputChunk  []byte

	ControlAction        string // session-control
	PreviousController   string
	ControlReason        string

	KeyEventName string // session-key-event / session-prompt-event
	Summary      string

	TaskID string // task-*

	Payload map[string]any // generic bag for conversation/directory/repository/github kinds
}

// EventExit mirrors pty.Exit without importing the pty package, keeping
// journal free of a dependency on the session/PTY layer.
type EventExit struct {
	Code   *int
	Signal *string
}

// Entry is one ring-buffer slot: a strictly increasing cursor plus the
// scope+event pair published at that cursor.
type Entry struct {
	Cursor int64
	Scope  Scope
	Event  Event
	At     time.Time
}
