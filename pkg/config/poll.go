package config

import "time"

// PollConfig groups the background pollers' scheduling knobs.
type PollConfig struct {
	HistoryPollInterval time.Duration

	GitStatusMinDirectoryRefresh time.Duration
	GitStatusMaxConcurrency      int

	ExternalIntegrationConcurrency int

	// MaxStreamJournalEntries bounds the observed-event ring buffer a
	// subscriber can replay from before its cursor is considered stale.
	MaxStreamJournalEntries int
}

// DefaultPollConfig returns the built-in poller defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		HistoryPollInterval:            1 * time.Second,
		GitStatusMinDirectoryRefresh:   2 * time.Second,
		GitStatusMaxConcurrency:        4,
		ExternalIntegrationConcurrency: 4,
		MaxStreamJournalEntries:        4096,
	}
}
