// Package config holds all castlight configuration, loaded from YAML with
// environment-variable overrides for values that carry secrets or vary per
// deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"castlight/internal/logging"
)

// Config is the root castlight configuration.
type Config struct {
	// DatabasePath locates the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	Sync      SyncConfig      `yaml:"sync"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	Logging   logging.Config  `yaml:"logging"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider: "ollama" or "genai".
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "data/castlight.db",
		Sync:         defaultSyncConfig(),
		Retrieval:    defaultRetrievalConfig(),
		Backfill:     defaultBackfillConfig(),
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Logging: logging.Config{Level: "info"},
	}
}

// Load reads YAML config from path, merging onto defaults and then applying
// environment overrides. A missing file is not an error: defaults plus
// environment apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CASTLIGHT_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("CASTLIGHT_REPLICATION_ENDPOINT"); v != "" {
		c.Sync.Endpoint = v
	}
	if v := os.Getenv("CASTLIGHT_SHARD_IDS"); v != "" {
		if ids, err := parseShardIDs(v); err == nil {
			c.Sync.ShardIDs = ids
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("CASTLIGHT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects configurations that cannot possibly work.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if err := c.Sync.validate(); err != nil {
		return err
	}
	if err := c.Retrieval.validate(); err != nil {
		return err
	}
	switch c.Embedding.Provider {
	case "ollama", "genai", "":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	return nil
}

func parseShardIDs(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	ids := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid shard id %q: %w", p, err)
		}
		ids = append(ids, uint32(n))
	}
	return ids, nil
}
