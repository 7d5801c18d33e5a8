package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sessionbridge/daemon/pkg/journal"
	"github.com/sessionbridge/daemon/pkg/store"
)

// GitStatusSnapshot is the (summary, repository) pair a SnapshotReader
// produces for one directory.
type GitStatusSnapshot struct {
	Summary   string
	RemoteURL string
}

// SnapshotReader reads a directory's current git status. This is an
// external-collaborator boundary: the concrete implementation shells out
// to the `git` binary via os/exec.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, dirPath string) (GitStatusSnapshot, error)
}

type dirRefreshState struct {
	lastRefreshedAt  time.Time
	lastDurationMs   int64
	lastSummary      string
	lastRepositoryID string
}

// GitStatusRefresher polls every non-archived directory for git status
// changes on a per-directory cooldown, publishing directory-git-updated
// only when something changed.
type GitStatusRefresher struct {
	store          store.StateStore
	reader         SnapshotReader
	publish        func(scope journal.Scope, event journal.Event)
	minRefresh     time.Duration
	maxConcurrency int

	mu    sync.Mutex
	state map[string]*dirRefreshState
}

// NewGitStatusRefresher constructs a GitStatusRefresher.
func NewGitStatusRefresher(st store.StateStore, reader SnapshotReader, minRefresh time.Duration, maxConcurrency int, publish func(journal.Scope, journal.Event)) *GitStatusRefresher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &GitStatusRefresher{
		store:          st,
		reader:         reader,
		publish:        publish,
		minRefresh:     minRefresh,
		maxConcurrency: maxConcurrency,
		state:          make(map[string]*dirRefreshState),
	}
}

// cooldown computes max(minRefresh, min(10min, max(1s, lastDurationMs×4)))
// for dirID.
func (g *GitStatusRefresher) cooldown(dirID string) time.Duration {
	g.mu.Lock()
	st, ok := g.state[dirID]
	g.mu.Unlock()
	if !ok {
		return g.minRefresh
	}

	computed := time.Duration(st.lastDurationMs) * 4 * time.Millisecond
	if computed < time.Second {
		computed = time.Second
	}
	if computed > 10*time.Minute {
		computed = 10 * time.Minute
	}
	if g.minRefresh > computed {
		return g.minRefresh
	}
	return computed
}

func (g *GitStatusRefresher) eligible(dirID string, now time.Time) bool {
	g.mu.Lock()
	st, ok := g.state[dirID]
	g.mu.Unlock()
	if !ok {
		return true
	}
	return now.Sub(st.lastRefreshedAt) >= g.cooldown(dirID)
}

// Run sweeps every non-archived directory once, refreshing eligible ones
// with bounded concurrency.
func (g *GitStatusRefresher) Run(ctx context.Context) error {
	dirs, err := g.store.ListDirectories(ctx, false)
	if err != nil {
		return err
	}

	now := time.Now()
	sem := make(chan struct{}, g.maxConcurrency)
	var wg sync.WaitGroup
	for _, d := range dirs {
		if !g.eligible(d.DirectoryID, now) {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(d *store.Directory) {
			defer wg.Done()
			defer func() { <-sem }()
			g.refreshOne(ctx, d)
		}(d)
	}
	wg.Wait()
	return nil
}

func (g *GitStatusRefresher) refreshOne(ctx context.Context, d *store.Directory) {
	start := time.Now()
	snap, err := g.reader.ReadSnapshot(ctx, d.Path)
	durationMs := time.Since(start).Milliseconds()

	g.mu.Lock()
	prev, had := g.state[d.DirectoryID]
	g.mu.Unlock()

	if err != nil {
		next := &dirRefreshState{lastRefreshedAt: start, lastDurationMs: durationMs}
		if had {
			next.lastSummary = prev.lastSummary
			next.lastRepositoryID = prev.lastRepositoryID
		}
		g.mu.Lock()
		g.state[d.DirectoryID] = next
		g.mu.Unlock()
		return
	}

	repositoryID := ""
	if had {
		repositoryID = prev.lastRepositoryID
	}
	if snap.RemoteURL != "" {
		repo := &store.Repository{RemoteURL: snap.RemoteURL, DirectoryID: d.DirectoryID}
		if err := g.store.UpsertRepository(ctx, repo); err == nil {
			repositoryID = repo.RepositoryID
		}
	}

	changed := !had || prev.lastSummary != snap.Summary || prev.lastRepositoryID != repositoryID

	g.mu.Lock()
	g.state[d.DirectoryID] = &dirRefreshState{
		lastRefreshedAt:  start,
		lastDurationMs:   durationMs,
		lastSummary:      snap.Summary,
		lastRepositoryID: repositoryID,
	}
	g.mu.Unlock()

	if changed && g.publish != nil {
		g.publish(journal.Scope{DirectoryID: d.DirectoryID, WorkspaceID: d.WorkspaceID, TenantID: d.TenantID}, journal.Event{
			Kind:    journal.KindDirectoryGitUpdated,
			Summary: snap.Summary,
			Payload: map[string]any{"repositoryId": repositoryID},
		})
	}
}
