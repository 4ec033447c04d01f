package config

import (
	"fmt"
	"time"
)

// RetrievalConfig configures search behavior.
type RetrievalConfig struct {
	// DefaultLimit is the result count when a caller passes none.
	DefaultLimit int `yaml:"default_limit"`

	// MinScore drops semantic matches scoring below it. Zero keeps all.
	MinScore float64 `yaml:"min_score"`

	// MaxContextLength bounds assembled context in bytes.
	MaxContextLength int `yaml:"max_context_length"`

	// SearchTimeout bounds one search call, including sub-searches.
	SearchTimeout time.Duration `yaml:"search_timeout"`

	// SemanticTimeout bounds the semantic sub-search on its own, so a hung
	// embedding call degrades to keyword results instead of exhausting the
	// whole search budget. Zero gives the semantic branch half of whatever
	// budget remains on the call.
	SemanticTimeout time.Duration `yaml:"semantic_timeout"`
}

func defaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		DefaultLimit:     10,
		MaxContextLength: 4000,
		SearchTimeout:    30 * time.Second,
		SemanticTimeout:  10 * time.Second,
	}
}

func (c *RetrievalConfig) validate() error {
	if c.DefaultLimit <= 0 {
		return fmt.Errorf("retrieval.default_limit must be positive, got %d", c.DefaultLimit)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be in [0,1], got %g", c.MinScore)
	}
	return nil
}

// BackfillConfig configures the embedding backfill job.
type BackfillConfig struct {
	// Workers bounds concurrent embedding calls.
	Workers int `yaml:"workers"`

	// ChunkSize is how many pending rows are claimed per round.
	ChunkSize int `yaml:"chunk_size"`

	// MaxRetries caps per-item embedding attempts within one run.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial per-item backoff, doubled per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

func defaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		Workers:      4,
		ChunkSize:    256,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}
