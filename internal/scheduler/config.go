package scheduler

import (
	"time"

	"github.com/billfold/billfold/internal/config"
)

// Config controls the run loop cadence, trigger evaluation, and run-log
// retention.
type Config struct {
	RunInterval      time.Duration
	TriggerBucket    time.Duration
	StaleRunAfter    time.Duration
	RunRetentionDays int

	// UnlockPassphrase decrypts raw payment instruments during collection.
	// Empty keeps runs strictly unattended.
	UnlockPassphrase string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      5 * time.Minute,
		TriggerBucket:    5 * time.Minute,
		StaleRunAfter:    6 * time.Hour,
		RunRetentionDays: 90,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.TriggerBucket <= 0 {
		c.TriggerBucket = defaults.TriggerBucket
	}
	if c.StaleRunAfter <= 0 {
		c.StaleRunAfter = defaults.StaleRunAfter
	}
	if c.RunRetentionDays <= 0 {
		c.RunRetentionDays = defaults.RunRetentionDays
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.RunInterval,
		TriggerBucket:    cfg.TriggerBucket,
		StaleRunAfter:    cfg.StaleRunAfter,
		RunRetentionDays: cfg.RunRetentionDays,
		UnlockPassphrase: cfg.AutodebitUnlockPassphrase,
	}.withDefaults()
}
