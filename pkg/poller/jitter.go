// Package poller implements the daemon's background timers: the history
// tailer, the git-status refresher, and the external-integration
// (GitHub-style) poller. Each runs a concurrency-limited sweep over a
// list of targets on its own self-rescheduling timer.
package poller

import (
	"math/rand"
	"time"
)

// jitter multiplies d by a uniform random factor in [1-factor, 1+factor].
func jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	scale := 1 + factor*(2*rand.Float64()-1)
	return time.Duration(float64(d) * scale)
}
