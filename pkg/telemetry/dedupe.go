package telemetry

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	promptDedupeMaxEntries = 4096
	promptDedupeTTL        = 5 * time.Minute
)

// PromptDedupe suppresses repeat session-prompt-event publishes for the
// same (session, second, hash) key within a bounded window: a per-session,
// per-second, per-hash dedupe key backed by a bounded LRU of at most 4096
// entries with a 5-minute TTL.
type PromptDedupe struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewPromptDedupe constructs a dedupe cache at the fixed entry ceiling.
func NewPromptDedupe() *PromptDedupe {
	cache, err := lru.New(promptDedupeMaxEntries)
	if err != nil {
		// lru.New only errors on a non-positive size, which never happens
		// with a compile-time positive constant.
		panic(err)
	}
	return &PromptDedupe{cache: cache}
}

// Seen reports whether key was already recorded within the TTL window,
// recording it (or refreshing its timestamp) as a side effect.
func (d *PromptDedupe) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if v, ok := d.cache.Get(key); ok {
		expiresAt := v.(time.Time)
		if now.Before(expiresAt) {
			return true
		}
	}
	d.cache.Add(key, now.Add(promptDedupeTTL))
	return false
}

// DedupeKey builds the per-session, per-second, per-hash dedupe key for a
// session-prompt-event candidate.
func DedupeKey(sessionID string, observedAt time.Time, hash string) string {
	return sessionID + "|" + observedAt.Truncate(time.Second).Format(time.RFC3339) + "|" + hash
}
