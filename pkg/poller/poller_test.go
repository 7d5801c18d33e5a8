package poller

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbridge/daemon/pkg/journal"
	"github.com/sessionbridge/daemon/pkg/store"
	"github.com/sessionbridge/daemon/pkg/telemetry"
)

func TestJitterStaysWithinFactor(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 50; i++ {
		got := jitter(d, 0.35)
		assert.GreaterOrEqual(t, got, time.Duration(float64(d)*0.65))
		assert.LessOrEqual(t, got, time.Duration(float64(d)*1.35))
	}
}

func newTestTailer(t *testing.T, initial string) (*HistoryTailer, string) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "history")
	require.NoError(t, err)
	_, err = f.WriteString(initial)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	svc := telemetry.NewService(store.NewMemory(), &noopApplier{}, telemetry.ParserModeFull)
	return NewHistoryTailer(f.Name(), "sess1", time.Second, svc), f.Name()
}

type noopApplier struct{}

func (noopApplier) ApplyTelemetryKeyEvent(context.Context, string, string, string, map[string]any) bool {
	return true
}
func (noopApplier) PublishPromptEvent(string, string) bool                       { return true }
func (noopApplier) ReconcileCodexResumeSessionID(context.Context, string, string) bool { return true }
func (noopApplier) RecordTelemetryDiagnostics(string, uint64, uint64, uint64)    {}
func (noopApplier) HasSession(string) bool                                      { return true }

func TestHistoryTailerReadsCompleteLinesOnly(t *testing.T) {
	tailer, _ := newTestTailer(t, "{\"type\":\"a\"}\n{\"type\":\"b\"}\nincomplete")

	nonEmpty, err := tailer.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, nonEmpty)
	assert.Equal(t, "incomplete", tailer.remainder)
}

func TestHistoryTailerDetectsTruncation(t *testing.T) {
	const line = "{\"type\":\"a\"}\n{\"type\":\"b\"}\n"
	tailer, path := newTestTailer(t, line)

	_, err := tailer.Tick(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, len(line), tailer.offset)

	const shorter = "{\"type\":\"c\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(shorter), 0o644))
	nonEmpty, err := tailer.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, nonEmpty)
	assert.EqualValues(t, len(shorter), tailer.offset)
	assert.Empty(t, tailer.remainder)
}

func TestHistoryTailerNextDelayGrowsThenCaps(t *testing.T) {
	tailer := &HistoryTailer{Interval: time.Second}

	d1 := tailer.nextDelay(false, nil)
	assert.InDelta(t, float64(2*time.Second), float64(d1), float64(2*time.Second)*0.35)

	d2 := tailer.nextDelay(false, nil)
	assert.InDelta(t, float64(4*time.Second), float64(d2), float64(4*time.Second)*0.35)

	for i := 0; i < 10; i++ {
		tailer.nextDelay(false, nil)
	}
	assert.Equal(t, 4, tailer.idleStreak)

	resetDelay := tailer.nextDelay(true, nil)
	assert.Equal(t, 0, tailer.idleStreak)
	assert.InDelta(t, float64(time.Second), float64(resetDelay), float64(time.Second)*0.4)
}

func TestGitStatusCooldownUsesMinimumFloor(t *testing.T) {
	g := NewGitStatusRefresher(store.NewMemory(), nil, 5*time.Second, 2, nil)
	assert.Equal(t, 5*time.Second, g.cooldown("unknown-dir"))
}

type fakeReader struct {
	mu    sync.Mutex
	calls int
	snap  GitStatusSnapshot
}

func (f *fakeReader) ReadSnapshot(_ context.Context, _ string) (GitStatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.snap, nil
}

func TestGitStatusRefresherPublishesOnlyWhenChanged(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.UpsertDirectory(context.Background(), &store.Directory{DirectoryID: "d1", Path: "/tmp/d1"}))

	reader := &fakeReader{snap: GitStatusSnapshot{Summary: "clean"}}
	var published int
	var mu sync.Mutex
	publish := func(journal.Scope, journal.Event) {
		mu.Lock()
		published++
		mu.Unlock()
	}

	g := NewGitStatusRefresher(st, reader, 0, 2, publish)
	require.NoError(t, g.Run(context.Background()))
	require.NoError(t, g.Run(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, published)
}

type fakeEnumerator struct {
	repos []DirectoryRepo
}

func (f *fakeEnumerator) Enumerate(context.Context) ([]DirectoryRepo, error) { return f.repos, nil }

type fakeResolver struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeResolver) ResolveToken(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "tok", nil
}

type fakeSyncer struct{}

func (fakeSyncer) Sync(_ context.Context, _ string, t Tuple) (*store.ExternalIntegrationSnapshot, error) {
	return &store.ExternalIntegrationSnapshot{ExternalID: t.RepositoryID + "/" + t.Branch, Status: "open"}, nil
}

func TestExternalIntegrationPollerDedupesBranchesAndMemoizesToken(t *testing.T) {
	st := store.NewMemory()
	enumerator := &fakeEnumerator{repos: []DirectoryRepo{
		{DirectoryID: "d1", RepositoryID: "r1", BranchStrategy: BranchStrategyPinnedThenCurrent, PinnedBranch: "main", CurrentBranch: "main"},
		{DirectoryID: "d1", RepositoryID: "r1", BranchStrategy: BranchStrategyPinnedThenCurrent, PinnedBranch: "main", CurrentBranch: "feature"},
	}}
	resolver := &fakeResolver{}

	p := NewExternalIntegrationPoller(st, enumerator, resolver, fakeSyncer{}, 4)
	require.NoError(t, p.Run(context.Background()))

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	assert.Equal(t, 1, resolver.calls)
}

func TestBranchesForStrategies(t *testing.T) {
	assert.Equal(t, []string{"main"}, branchesFor(BranchStrategyPinnedOnly, "main", "feature"))
	assert.Equal(t, []string{"feature"}, branchesFor(BranchStrategyCurrentOnly, "main", "feature"))
	assert.Equal(t, []string{"main", "feature"}, branchesFor(BranchStrategyPinnedThenCurrent, "main", "feature"))
	assert.Equal(t, []string{"main"}, branchesFor(BranchStrategyPinnedThenCurrent, "main", "main"))
}
