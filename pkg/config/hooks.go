package config

import "time"

// HooksConfig controls the lifecycle-hooks webhook dispatcher.
type HooksConfig struct {
	PendingQueueLimit int
	DedupeWindow      time.Duration
	DispatchTimeout   time.Duration
	WebhookURLs       []string
}

// DefaultHooksConfig returns the built-in hooks defaults.
func DefaultHooksConfig() HooksConfig {
	return HooksConfig{
		PendingQueueLimit: 2048,
		DedupeWindow:      250 * time.Millisecond,
		DispatchTimeout:   5 * time.Second,
	}
}
