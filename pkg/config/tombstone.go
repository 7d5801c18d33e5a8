package config

import "time"

// TombstoneConfig controls how long an exited session is retained before
// removal.
type TombstoneConfig struct {
	// SessionExitTombstoneTTL is how long a tombstoned session stays
	// queryable by id. A value of 0 means "destroy immediately".
	SessionExitTombstoneTTL time.Duration
}

// DefaultTombstoneConfig returns the built-in tombstone defaults.
func DefaultTombstoneConfig() TombstoneConfig {
	return TombstoneConfig{SessionExitTombstoneTTL: 5 * time.Minute}
}
