package config

import (
	"fmt"
	"time"
)

// SyncConfig configures the shard sync engine.
type SyncConfig struct {
	// Endpoint is the replication service base URL.
	Endpoint string `yaml:"endpoint"`

	// ShardIDs selects which shards to sync. Shard 0 is the block shard.
	ShardIDs []uint32 `yaml:"shard_ids"`

	// BatchSize bounds rows staged per transaction.
	BatchSize int `yaml:"batch_size"`

	// BatchMaxAge flushes a partially full batch after this long.
	BatchMaxAge time.Duration `yaml:"batch_max_age"`

	// PageSize is the number of messages requested per replication page.
	PageSize int `yaml:"page_size"`

	// PollInterval is the delay between tip polls in real-time mode.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxRetries caps transient-error retries before a worker fails.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Realtime switches workers to the subscription feed once caught up.
	Realtime bool `yaml:"realtime"`

	// Once stops each worker after its first catch-up instead of tailing or
	// polling. Takes precedence over Realtime.
	Once bool `yaml:"-"`
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		Endpoint:     "http://localhost:3381",
		ShardIDs:     []uint32{1, 2},
		BatchSize:    500,
		BatchMaxAge:  5 * time.Second,
		PageSize:     200,
		PollInterval: time.Second,
		MaxRetries:   5,
		RetryBackoff: 500 * time.Millisecond,
		Realtime:     true,
	}
}

func (c *SyncConfig) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.BatchSize)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.PageSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}
