package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sessionbridge/daemon/pkg/store"
)

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("postgres store: %w", store.ErrClosed)
	}
	return nil
}

// GetConversation implements store.StateStore.
func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, directory_id, tenant_id, user_id, workspace_id, agent_type, title,
		       runtime_status, runtime_last_event_at, runtime_attention_reason,
		       runtime_last_exit_code, runtime_last_exit_signal, adapter_state, archived_at, created_at
		FROM conversations WHERE conversation_id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	return c, err
}

// ListConversations implements store.StateStore.
func (s *Store) ListConversations(ctx context.Context, includeArchived bool) ([]*store.Conversation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := `
		SELECT conversation_id, directory_id, tenant_id, user_id, workspace_id, agent_type, title,
		       runtime_status, runtime_last_event_at, runtime_attention_reason,
		       runtime_last_exit_code, runtime_last_exit_signal, adapter_state, archived_at, created_at
		FROM conversations`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var c store.Conversation
	var adapterState []byte
	var exitCode sql.NullInt64
	var exitSignal sql.NullString

	if err := row.Scan(
		&c.ConversationID, &c.DirectoryID, &c.TenantID, &c.UserID, &c.WorkspaceID, &c.AgentType, &c.Title,
		&c.RuntimeStatus, &c.RuntimeLastEventAt, &c.RuntimeAttentionReason,
		&exitCode, &exitSignal, &adapterState, &c.ArchivedAt, &c.CreatedAt,
	); err != nil {
		return nil, err
	}

	if exitCode.Valid || exitSignal.Valid {
		c.RuntimeLastExit = &store.ExitRecord{}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			c.RuntimeLastExit.Code = &code
		}
		if exitSignal.Valid {
			sig := exitSignal.String
			c.RuntimeLastExit.Signal = &sig
		}
	}

	if len(adapterState) > 0 {
		if err := json.Unmarshal(adapterState, &c.AdapterState); err != nil {
			return nil, fmt.Errorf("decode adapter_state: %w", err)
		}
	}
	return &c, nil
}

// UpsertConversation implements store.StateStore.
func (s *Store) UpsertConversation(ctx context.Context, c *store.Conversation) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	adapterState, err := json.Marshal(c.AdapterState)
	if err != nil {
		return fmt.Errorf("encode adapter_state: %w", err)
	}
	var exitCode *int
	var exitSignal *string
	if c.RuntimeLastExit != nil {
		exitCode = c.RuntimeLastExit.Code
		exitSignal = c.RuntimeLastExit.Signal
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			conversation_id, directory_id, tenant_id, user_id, workspace_id, agent_type, title,
			runtime_status, runtime_last_event_at, runtime_attention_reason,
			runtime_last_exit_code, runtime_last_exit_signal, adapter_state, archived_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (conversation_id) DO UPDATE SET
			directory_id = EXCLUDED.directory_id,
			agent_type = EXCLUDED.agent_type,
			title = EXCLUDED.title,
			runtime_status = EXCLUDED.runtime_status,
			runtime_last_event_at = EXCLUDED.runtime_last_event_at,
			runtime_attention_reason = EXCLUDED.runtime_attention_reason,
			runtime_last_exit_code = EXCLUDED.runtime_last_exit_code,
			runtime_last_exit_signal = EXCLUDED.runtime_last_exit_signal,
			adapter_state = EXCLUDED.adapter_state,
			archived_at = EXCLUDED.archived_at`,
		c.ConversationID, c.DirectoryID, c.TenantID, c.UserID, c.WorkspaceID, c.AgentType, c.Title,
		string(c.RuntimeStatus), c.RuntimeLastEventAt, c.RuntimeAttentionReason,
		exitCode, exitSignal, adapterState, c.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", c.ConversationID, err)
	}
	return nil
}

// ArchiveConversation implements store.StateStore.
func (s *Store) ArchiveConversation(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET archived_at = now() WHERE conversation_id = $1`, id)
	return s.mustAffect(res, err, id)
}

// DeleteConversation implements store.StateStore.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, id)
	return s.mustAffect(res, err, id)
}

func (s *Store) mustAffect(res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	return nil
}

// GetDirectory implements store.StateStore.
func (s *Store) GetDirectory(ctx context.Context, id string) (*store.Directory, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var d store.Directory
	err := s.db.QueryRowContext(ctx,
		`SELECT directory_id, tenant_id, workspace_id, path, archived_at FROM directories WHERE directory_id = $1`, id,
	).Scan(&d.DirectoryID, &d.TenantID, &d.WorkspaceID, &d.Path, &d.ArchivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("directory %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDirectories implements store.StateStore.
func (s *Store) ListDirectories(ctx context.Context, includeArchived bool) ([]*store.Directory, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := `SELECT directory_id, tenant_id, workspace_id, path, archived_at FROM directories`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Directory
	for rows.Next() {
		var d store.Directory
		if err := rows.Scan(&d.DirectoryID, &d.TenantID, &d.WorkspaceID, &d.Path, &d.ArchivedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// UpsertDirectory implements store.StateStore.
func (s *Store) UpsertDirectory(ctx context.Context, d *store.Directory) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO directories (directory_id, tenant_id, workspace_id, path, archived_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (directory_id) DO UPDATE SET path = EXCLUDED.path, archived_at = EXCLUDED.archived_at`,
		d.DirectoryID, d.TenantID, d.WorkspaceID, d.Path, d.ArchivedAt)
	return err
}

// ArchiveDirectory implements store.StateStore.
func (s *Store) ArchiveDirectory(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE directories SET archived_at = now() WHERE directory_id = $1`, id)
	return s.mustAffect(res, err, id)
}

// GetRepositoryByRemoteURL implements store.StateStore.
func (s *Store) GetRepositoryByRemoteURL(ctx context.Context, remoteURL string) (*store.Repository, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var r store.Repository
	err := s.db.QueryRowContext(ctx,
		`SELECT repository_id, remote_url, directory_id FROM repositories WHERE remote_url = $1`, remoteURL,
	).Scan(&r.RepositoryID, &r.RemoteURL, &r.DirectoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s: %w", remoteURL, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRepository implements store.StateStore. Reuses the existing
// repository id for the remote URL when the caller doesn't supply one.
func (s *Store) UpsertRepository(ctx context.Context, r *store.Repository) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if r.RepositoryID == "" {
		existing, err := s.GetRepositoryByRemoteURL(ctx, r.RemoteURL)
		if err == nil {
			r.RepositoryID = existing.RepositoryID
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (repository_id, remote_url, directory_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (remote_url) DO UPDATE SET directory_id = EXCLUDED.directory_id`,
		r.RepositoryID, r.RemoteURL, r.DirectoryID)
	return err
}

// ListTasks implements store.StateStore.
func (s *Store) ListTasks(ctx context.Context, workspaceID string) ([]*store.Task, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, workspace_id, title, status, position FROM tasks WHERE workspace_id = $1 ORDER BY position`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Task
	for rows.Next() {
		var t store.Task
		if err := rows.Scan(&t.TaskID, &t.WorkspaceID, &t.Title, &t.Status, &t.Position); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// UpsertTask implements store.StateStore.
func (s *Store) UpsertTask(ctx context.Context, t *store.Task) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, workspace_id, title, status, position)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (task_id) DO UPDATE SET title = EXCLUDED.title, status = EXCLUDED.status, position = EXCLUDED.position`,
		t.TaskID, t.WorkspaceID, t.Title, t.Status, t.Position)
	return err
}

// ReorderTasks implements store.StateStore.
func (s *Store) ReorderTasks(ctx context.Context, _ string, orderedTaskIDs []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, id := range orderedTaskIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET position = $1 WHERE task_id = $2`, i, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendTelemetry implements store.StateStore.
func (s *Store) AppendTelemetry(ctx context.Context, rec *store.TelemetryRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode telemetry payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO telemetry_records (
			fingerprint, source, session_id, provider_thread_id, event_name, severity, summary, observed_at, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.Fingerprint, string(rec.Source), rec.SessionID, rec.ProviderThreadID, rec.EventName,
		rec.Severity, rec.Summary, rec.ObservedAt, payload)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("telemetry %s: %w", rec.Fingerprint, store.ErrAlreadyExists)
	}
	return err
}

// isUniqueViolation is a pragmatic substring check rather than importing
// pgconn's error-code type: the stdlib database/sql interface this store
// uses intentionally erases the driver-specific error type.
func isUniqueViolation(err error) bool {
	return err != nil && (containsAny(err.Error(), "duplicate key value", "SQLSTATE 23505"))
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// UpsertExternalIntegrationSnapshot implements store.StateStore.
func (s *Store) UpsertExternalIntegrationSnapshot(ctx context.Context, snap *store.ExternalIntegrationSnapshot) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	jobs, err := json.Marshal(snap.Jobs)
	if err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO external_integration_snapshots (
			repository_id, branch, external_id, status, jobs, synced_at, last_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (repository_id, branch, external_id) DO UPDATE SET
			status = EXCLUDED.status, jobs = EXCLUDED.jobs, synced_at = EXCLUDED.synced_at, last_error = EXCLUDED.last_error`,
		snap.RepositoryID, snap.Branch, snap.ExternalID, snap.Status, jobs, snap.SyncedAt, snap.LastError)
	return err
}

// Close implements store.StateStore.
func (s *Store) Close(_ context.Context) error {
	s.closed = true
	return s.db.Close()
}

var _ store.StateStore = (*Store)(nil)
