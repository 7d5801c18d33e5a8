package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process StateStore, used by tests and by the daemon when
// no --state-db-path backend is configured: a map+RWMutex store generalized
// to every entity the contract defines.
type Memory struct {
	mu sync.RWMutex

	conversations map[string]*Conversation
	directories   map[string]*Directory
	repositories  map[string]*Repository // keyed by remote URL
	tasks         map[string]*Task
	telemetry     map[string]*TelemetryRecord // keyed by fingerprint
	integrations  map[string]*ExternalIntegrationSnapshot

	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*Conversation),
		directories:   make(map[string]*Directory),
		repositories:  make(map[string]*Repository),
		tasks:         make(map[string]*Task),
		telemetry:     make(map[string]*TelemetryRecord),
		integrations:  make(map[string]*ExternalIntegrationSnapshot),
	}
}

func cloneConversation(c *Conversation) *Conversation {
	cp := *c
	if c.RuntimeLastExit != nil {
		exit := *c.RuntimeLastExit
		cp.RuntimeLastExit = &exit
	}
	if c.AdapterState != nil {
		cp.AdapterState = make(map[string]any, len(c.AdapterState))
		for k, v := range c.AdapterState {
			cp.AdapterState[k] = v
		}
	}
	return &cp
}

func (m *Memory) checkOpen() error {
	if m.closed {
		return fmt.Errorf("conversation store: %w", ErrClosed)
	}
	return nil
}

// GetConversation implements StateStore.
func (m *Memory) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return cloneConversation(c), nil
}

// ListConversations implements StateStore.
func (m *Memory) ListConversations(_ context.Context, includeArchived bool) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		if !includeArchived && c.ArchivedAt != nil {
			continue
		}
		out = append(out, cloneConversation(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

// UpsertConversation implements StateStore.
func (m *Memory) UpsertConversation(_ context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		if existing, ok := m.conversations[c.ConversationID]; ok {
			c.CreatedAt = existing.CreatedAt
		} else {
			c.CreatedAt = time.Now()
		}
	}
	m.conversations[c.ConversationID] = cloneConversation(c)
	return nil
}

// ArchiveConversation implements StateStore.
func (m *Memory) ArchiveConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	c, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	now := time.Now()
	c.ArchivedAt = &now
	return nil
}

// DeleteConversation implements StateStore.
func (m *Memory) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, ok := m.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	delete(m.conversations, id)
	return nil
}

// GetDirectory implements StateStore.
func (m *Memory) GetDirectory(_ context.Context, id string) (*Directory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	d, ok := m.directories[id]
	if !ok {
		return nil, fmt.Errorf("directory %s: %w", id, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

// ListDirectories implements StateStore.
func (m *Memory) ListDirectories(_ context.Context, includeArchived bool) ([]*Directory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*Directory, 0, len(m.directories))
	for _, d := range m.directories {
		if !includeArchived && d.ArchivedAt != nil {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DirectoryID < out[j].DirectoryID })
	return out, nil
}

// UpsertDirectory implements StateStore.
func (m *Memory) UpsertDirectory(_ context.Context, d *Directory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	cp := *d
	m.directories[d.DirectoryID] = &cp
	return nil
}

// ArchiveDirectory implements StateStore.
func (m *Memory) ArchiveDirectory(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	d, ok := m.directories[id]
	if !ok {
		return fmt.Errorf("directory %s: %w", id, ErrNotFound)
	}
	now := time.Now()
	d.ArchivedAt = &now
	return nil
}

// GetRepositoryByRemoteURL implements StateStore.
func (m *Memory) GetRepositoryByRemoteURL(_ context.Context, remoteURL string) (*Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	r, ok := m.repositories[remoteURL]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", remoteURL, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// UpsertRepository implements StateStore. Reuses the previous RepositoryID
// for a given remote URL when the caller leaves RepositoryID empty.
func (m *Memory) UpsertRepository(_ context.Context, r *Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if r.RepositoryID == "" {
		if existing, ok := m.repositories[r.RemoteURL]; ok {
			r.RepositoryID = existing.RepositoryID
		}
	}
	cp := *r
	m.repositories[r.RemoteURL] = &cp
	return nil
}

// ListTasks implements StateStore.
func (m *Memory) ListTasks(_ context.Context, workspaceID string) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*Task, 0)
	for _, t := range m.tasks {
		if t.WorkspaceID == workspaceID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// UpsertTask implements StateStore.
func (m *Memory) UpsertTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	cp := *t
	m.tasks[t.TaskID] = &cp
	return nil
}

// ReorderTasks implements StateStore.
func (m *Memory) ReorderTasks(_ context.Context, _ string, orderedTaskIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	for i, id := range orderedTaskIDs {
		if t, ok := m.tasks[id]; ok {
			t.Position = i
		}
	}
	return nil
}

// AppendTelemetry implements StateStore.
func (m *Memory) AppendTelemetry(_ context.Context, rec *TelemetryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, exists := m.telemetry[rec.Fingerprint]; exists {
		return fmt.Errorf("telemetry %s: %w", rec.Fingerprint, ErrAlreadyExists)
	}
	cp := *rec
	m.telemetry[rec.Fingerprint] = &cp
	return nil
}

// UpsertExternalIntegrationSnapshot implements StateStore.
func (m *Memory) UpsertExternalIntegrationSnapshot(_ context.Context, snap *ExternalIntegrationSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	key := snap.RepositoryID + "|" + snap.Branch + "|" + snap.ExternalID
	cp := *snap
	m.integrations[key] = &cp
	return nil
}

// Close implements StateStore.
func (m *Memory) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ StateStore = (*Memory)(nil)
