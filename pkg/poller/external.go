package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sessionbridge/daemon/pkg/store"
)

// BranchStrategy selects which branches of a repository an
// external-integration poller tracks.
type BranchStrategy string

const (
	BranchStrategyPinnedOnly        BranchStrategy = "pinned-only"
	BranchStrategyCurrentOnly       BranchStrategy = "current-only"
	BranchStrategyPinnedThenCurrent BranchStrategy = "pinned-then-current"
)

// Tuple is one (directory, repository, branch) unit of work.
type Tuple struct {
	DirectoryID  string
	RepositoryID string
	Branch       string
}

// DirectoryRepo is one tracked repository within a directory, carrying
// enough to compute the set of branches a sweep should cover.
type DirectoryRepo struct {
	DirectoryID    string
	RepositoryID   string
	BranchStrategy BranchStrategy
	PinnedBranch   string
	CurrentBranch  string
}

// DirectoryRepoEnumerator enumerates the tracked (directory, repository)
// pairs for one sweep.
type DirectoryRepoEnumerator interface {
	Enumerate(ctx context.Context) ([]DirectoryRepo, error)
}

// TokenResolver resolves a bearer token for a repository's external
// integration. Implementations are expected to be slow/rate-limited;
// ExternalIntegrationPoller memoizes successful resolutions and coalesces
// concurrent resolutions for the same repository.
type TokenResolver interface {
	ResolveToken(ctx context.Context, repositoryID string) (string, error)
}

// Syncer executes one tuple's sync against the external integration
// provider, returning the reconciled snapshot (PR record, status rollup,
// child jobs).
type Syncer interface {
	Sync(ctx context.Context, token string, t Tuple) (*store.ExternalIntegrationSnapshot, error)
}

// ExternalIntegrationPoller reconciles GitHub-style PR/job state for every
// tracked (directory, repository, branch) tuple.
type ExternalIntegrationPoller struct {
	store       store.StateStore
	enumerator  DirectoryRepoEnumerator
	resolver    TokenResolver
	syncer      Syncer
	concurrency int

	tokenMu  sync.Mutex
	tokens   map[string]string
	inFlight map[string]chan struct{}
}

// NewExternalIntegrationPoller constructs an ExternalIntegrationPoller.
func NewExternalIntegrationPoller(st store.StateStore, enumerator DirectoryRepoEnumerator, resolver TokenResolver, syncer Syncer, concurrency int) *ExternalIntegrationPoller {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ExternalIntegrationPoller{
		store:       st,
		enumerator:  enumerator,
		resolver:    resolver,
		syncer:      syncer,
		concurrency: concurrency,
		tokens:      make(map[string]string),
		inFlight:    make(map[string]chan struct{}),
	}
}

// branchesFor resolves the de-duplicated branch list a strategy covers.
func branchesFor(strategy BranchStrategy, pinned, current string) []string {
	switch strategy {
	case BranchStrategyPinnedOnly:
		if pinned == "" {
			return nil
		}
		return []string{pinned}
	case BranchStrategyCurrentOnly:
		if current == "" {
			return nil
		}
		return []string{current}
	case BranchStrategyPinnedThenCurrent:
		var out []string
		if pinned != "" {
			out = append(out, pinned)
		}
		if current != "" && current != pinned {
			out = append(out, current)
		}
		return out
	default:
		return nil
	}
}

// Run enumerates tuples, deduplicates by (repositoryId, branch), and syncs
// each with bounded concurrency.
func (p *ExternalIntegrationPoller) Run(ctx context.Context) error {
	repos, err := p.enumerator.Enumerate(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var tuples []Tuple
	for _, r := range repos {
		for _, branch := range branchesFor(r.BranchStrategy, r.PinnedBranch, r.CurrentBranch) {
			key := r.RepositoryID + "|" + branch
			if seen[key] {
				continue
			}
			seen[key] = true
			tuples = append(tuples, Tuple{DirectoryID: r.DirectoryID, RepositoryID: r.RepositoryID, Branch: branch})
		}
	}

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, t := range tuples {
		wg.Add(1)
		sem <- struct{}{}
		go func(t Tuple) {
			defer wg.Done()
			defer func() { <-sem }()
			p.syncOne(ctx, t)
		}(t)
	}
	wg.Wait()
	return nil
}

// token resolves a bearer token for repositoryID, memoizing success and
// coalescing concurrent callers onto a single in-flight resolution via
// github.com/cenkalti/backoff/v4's retry helper.
func (p *ExternalIntegrationPoller) token(ctx context.Context, repositoryID string) (string, error) {
	p.tokenMu.Lock()
	if tok, ok := p.tokens[repositoryID]; ok {
		p.tokenMu.Unlock()
		return tok, nil
	}
	if wait, ok := p.inFlight[repositoryID]; ok {
		p.tokenMu.Unlock()
		<-wait
		p.tokenMu.Lock()
		tok, ok := p.tokens[repositoryID]
		p.tokenMu.Unlock()
		if !ok {
			return "", fmt.Errorf("token resolution failed for %s", repositoryID)
		}
		return tok, nil
	}
	done := make(chan struct{})
	p.inFlight[repositoryID] = done
	p.tokenMu.Unlock()

	var tok string
	err := backoff.Retry(func() error {
		t, resolveErr := p.resolver.ResolveToken(ctx, repositoryID)
		if resolveErr != nil {
			return resolveErr
		}
		tok = t
		return nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))

	p.tokenMu.Lock()
	if err == nil {
		p.tokens[repositoryID] = tok
	}
	delete(p.inFlight, repositoryID)
	close(done)
	p.tokenMu.Unlock()

	return tok, err
}

func (p *ExternalIntegrationPoller) syncOne(ctx context.Context, t Tuple) {
	token, err := p.token(ctx, t.RepositoryID)
	if err != nil {
		p.recordFailure(ctx, t, err)
		return
	}

	snap, err := p.syncer.Sync(ctx, token, t)
	if err != nil {
		p.recordFailure(ctx, t, err)
		return
	}
	snap.RepositoryID = t.RepositoryID
	snap.Branch = t.Branch
	snap.SyncedAt = time.Now()
	_ = p.store.UpsertExternalIntegrationSnapshot(ctx, snap)
}

func (p *ExternalIntegrationPoller) recordFailure(ctx context.Context, t Tuple, syncErr error) {
	msg := syncErr.Error()
	_ = p.store.UpsertExternalIntegrationSnapshot(ctx, &store.ExternalIntegrationSnapshot{
		RepositoryID: t.RepositoryID,
		Branch:       t.Branch,
		SyncedAt:     time.Now(),
		LastError:    &msg,
	})
}
