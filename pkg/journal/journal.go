package journal

import "sync"

// Filter is a subscription's conjunction of equality tests. All fields
// are optional; zero value means "don't filter on this field".
type Filter struct {
	TenantID       string
	UserID         string
	WorkspaceID    string
	DirectoryID    string
	ConversationID string
	RepositoryID   string
	TaskID         string
	IncludeOutput  bool
}

func (f Filter) matches(scope Scope, ev Event) bool {
	if ev.Kind == KindSessionOutput && !f.IncludeOutput {
		return false
	}
	if f.TenantID != "" && f.TenantID != scope.TenantID {
		return false
	}
	if f.UserID != "" && f.UserID != scope.UserID {
		return false
	}
	if f.WorkspaceID != "" && f.WorkspaceID != scope.WorkspaceID {
		return false
	}
	if f.DirectoryID != "" && f.DirectoryID != scope.DirectoryID {
		return false
	}
	if f.ConversationID != "" && f.ConversationID != scope.ConversationID {
		return false
	}
	if f.RepositoryID != "" && f.RepositoryID != scope.RepositoryID {
		return false
	}
	if f.TaskID != "" {
		if ev.TaskID != "" {
			if ev.TaskID != f.TaskID {
				return false
			}
		} else if !containsTaskID(scope.TaskIDs, f.TaskID) {
			return false
		}
	}
	return true
}

func containsTaskID(ids []string, id string) bool {
	for _, t := range ids {
		if t == id {
			return true
		}
	}
	return false
}

// Subscription is one connection's registered filter.
type Subscription struct {
	ID           string
	ConnectionID string
	Filter       Filter
}

// Dispatch is called once per matching subscription on every publish.
type Dispatch func(sub Subscription, entry Entry)

// Journal is the process-wide observed-event ring buffer and subscription
// registry. All mutation is guarded by a single mutex, matching the
// daemon's single-process scheduling model.
type Journal struct {
	mu sync.Mutex

	maxEntries int
	cursor     int64
	entries    []Entry // ring, oldest first

	subscriptions map[string]Subscription

	onPublish func(Entry) // lifecycle-hooks runtime hand-off, optional
}

// New creates a Journal bounded to maxEntries resident entries.
func New(maxEntries int) *Journal {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Journal{
		maxEntries:    maxEntries,
		subscriptions: make(map[string]Subscription),
	}
}

// SetHooksSink registers the lifecycle-hooks runtime hand-off, called once
// per publish after fan-out.
func (j *Journal) SetHooksSink(fn func(Entry)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onPublish = fn
}

// Publish appends scope+event at a freshly minted cursor, evicts the
// oldest entry if the ring is full, fans out to matching subscriptions via
// dispatch, then hands the entry to the hooks sink.
func (j *Journal) Publish(scope Scope, event Event, dispatch Dispatch) Entry {
	j.mu.Lock()
	j.cursor++
	entry := Entry{Cursor: j.cursor, Scope: scope, Event: event}
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.maxEntries {
		j.entries = j.entries[len(j.entries)-j.maxEntries:]
	}

	matches := make([]Subscription, 0)
	for _, sub := range j.subscriptions {
		if sub.Filter.matches(scope, event) {
			matches = append(matches, sub)
		}
	}
	sink := j.onPublish
	j.mu.Unlock()

	if dispatch != nil {
		for _, sub := range matches {
			dispatch(sub, entry)
		}
	}
	if sink != nil {
		sink(entry)
	}
	return entry
}

// Subscribe registers a subscription and returns the backlog since
// afterCursor. stale is true when one or more
// entries between afterCursor and the oldest resident entry have already
// been evicted from the ring ("stale cursor; reconnect"); the caller still
// receives whatever backlog remains resident.
func (j *Journal) Subscribe(id, connectionID string, filter Filter, afterCursor int64) (backlog []Entry, stale bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.subscriptions[id] = Subscription{ID: id, ConnectionID: connectionID, Filter: filter}

	if len(j.entries) > 0 && j.entries[0].Cursor > afterCursor+1 {
		stale = true
	}

	backlog = make([]Entry, 0)
	for _, e := range j.entries {
		if e.Cursor > afterCursor && filter.matches(e.Scope, e.Event) {
			backlog = append(backlog, e)
		}
	}
	return backlog, stale
}

// Unsubscribe removes a subscription.
func (j *Journal) Unsubscribe(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.subscriptions, id)
}

// RemoveConnection removes every subscription owned by connectionID, used
// on connection shutdown.
func (j *Journal) RemoveConnection(connectionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, sub := range j.subscriptions {
		if sub.ConnectionID == connectionID {
			delete(j.subscriptions, id)
		}
	}
}

// Cursor returns the current (last-assigned) cursor value.
func (j *Journal) Cursor() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cursor
}
