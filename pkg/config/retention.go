package config

import "time"

// RetentionConfig controls how long stored execution events are kept.
type RetentionConfig struct {
	// EventTTL is the maximum age of stored events before deletion.
	EventTTL time.Duration `yaml:"event_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EventTTL:        7 * 24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
	}
}
