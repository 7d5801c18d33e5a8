package store

import "context"

// StateStore is the full persistence contract the session runtime, the
// background pollers, and the command dispatcher invoke. It never leaks a
// schema: every method takes and returns the domain types in this package.
//
// Implementations must be safe for concurrent use. A closed store returns
// ErrClosed (wrapped) from every method; callers treat that as terminal and
// stop retrying.
type StateStore interface {
	// Conversations (the persisted twin of a live Session).
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	ListConversations(ctx context.Context, includeArchived bool) ([]*Conversation, error)
	UpsertConversation(ctx context.Context, c *Conversation) error
	ArchiveConversation(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error

	// Directories.
	GetDirectory(ctx context.Context, directoryID string) (*Directory, error)
	ListDirectories(ctx context.Context, includeArchived bool) ([]*Directory, error)
	UpsertDirectory(ctx context.Context, d *Directory) error
	ArchiveDirectory(ctx context.Context, directoryID string) error

	// Repositories, reconciled by normalized remote URL.
	GetRepositoryByRemoteURL(ctx context.Context, remoteURL string) (*Repository, error)
	UpsertRepository(ctx context.Context, r *Repository) error

	// Tasks.
	ListTasks(ctx context.Context, workspaceID string) ([]*Task, error)
	UpsertTask(ctx context.Context, t *Task) error
	ReorderTasks(ctx context.Context, workspaceID string, orderedTaskIDs []string) error

	// Telemetry. AppendTelemetry is a de-duplicating insert keyed by
	// Fingerprint: when the fingerprint already exists the record is not
	// written and implementations return ErrAlreadyExists (wrapped), so
	// callers can increment a "dropped" counter without treating it as a
	// failure.
	AppendTelemetry(ctx context.Context, rec *TelemetryRecord) error

	// External integration (GitHub-style PR/job) snapshots.
	UpsertExternalIntegrationSnapshot(ctx context.Context, snap *ExternalIntegrationSnapshot) error

	// Close releases backend resources. After Close returns, every other
	// method must return ErrClosed.
	Close(ctx context.Context) error
}
