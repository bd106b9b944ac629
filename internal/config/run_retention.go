package config

import (
	"fmt"
	"time"
)

// RunRetentionConfig controls pruning of old discovery run records.
// Only runs that own no persisted projects are ever pruned.
type RunRetentionConfig struct {
	// RetentionDays is how old a finished run must be before deletion
	// Default: 30, Range: 0-365
	// 0 = disable pruning
	RetentionDays int

	// Keep is the minimum number of recent runs to keep per scope
	// Default: 20, Range: 0-1000
	Keep int
}

// DefaultRunRetentionConfig returns the default run retention configuration
func DefaultRunRetentionConfig() RunRetentionConfig {
	return RunRetentionConfig{
		RetentionDays: 30,
		Keep:          20,
	}
}

// Validate checks if the configuration has valid values
func (c RunRetentionConfig) Validate() error {
	if c.RetentionDays < 0 || c.RetentionDays > 365 {
		return fmt.Errorf("retention_days must be between 0 and 365 (got %d)", c.RetentionDays)
	}
	if c.Keep < 0 || c.Keep > 1000 {
		return fmt.Errorf("keep must be between 0 and 1000 (got %d)", c.Keep)
	}
	return nil
}

// Enabled reports whether pruning should run at all
func (c RunRetentionConfig) Enabled() bool {
	return c.RetentionDays > 0
}

// Cutoff returns the completion time before which runs are eligible
func (c RunRetentionConfig) Cutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(c.RetentionDays) * 24 * time.Hour)
}

// String returns a human-readable representation of the config
func (c RunRetentionConfig) String() string {
	return fmt.Sprintf("RunRetentionConfig{RetentionDays: %d, Keep: %d}", c.RetentionDays, c.Keep)
}

// RunRetentionConfigFromEnv creates a RunRetentionConfig from environment
// variables, falling back to defaults
//
// Environment variables:
//   - RDSCOUT_RUN_RETENTION_DAYS: age in days before a run may be pruned (default: 30)
//   - RDSCOUT_RUN_RETENTION_KEEP: recent runs always kept per scope (default: 20)
//
// Returns an error if any environment variable has an invalid value.
func RunRetentionConfigFromEnv() (RunRetentionConfig, error) {
	cfg := DefaultRunRetentionConfig()

	if err := parseEnvInt("RDSCOUT_RUN_RETENTION_DAYS", &cfg.RetentionDays); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("RDSCOUT_RUN_RETENTION_KEEP", &cfg.Keep); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid run retention configuration from environment: %w", err)
	}
	return cfg, nil
}
