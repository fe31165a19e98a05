package postgres

import (
	"fmt"
	"time"
)

// MirrorStoreConfig holds mirror specific configuration for the PostgreSQL store.
// Pool configuration is handled separately via PoolConfig.
type MirrorStoreConfig struct {
	// QueryTimeout bounds every mirror query.
	// Default: 5s
	QueryTimeout time.Duration

	// CleanupInterval is how often expired rows are deleted. Expired rows are
	// already invisible to Get, the cleanup only reclaims space.
	// Default: 10 minutes
	CleanupInterval time.Duration
}

// Validate checks that the configuration is valid.
func (c *MirrorStoreConfig) Validate() error {
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("cleanup interval must not be negative")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *MirrorStoreConfig) ApplyDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 5 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 10 * time.Minute
	}
}
