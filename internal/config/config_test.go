package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "data/castlight.db", cfg.DatabasePath)
	assert.Equal(t, 500, cfg.Sync.BatchSize)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 10, cfg.Retrieval.DefaultLimit)
}

func TestLoadMergesFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castlight.yaml")
	body := `
database_path: /var/lib/castlight/db.sqlite
sync:
  batch_size: 50
  shard_ids: [1]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/castlight/db.sqlite", cfg.DatabasePath)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, []uint32{1}, cfg.Sync.ShardIDs)
	// Untouched values keep defaults.
	assert.Equal(t, 200, cfg.Sync.PageSize)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CASTLIGHT_DB", "/tmp/override.db")
	t.Setenv("CASTLIGHT_SHARD_IDS", "3, 4,5")
	t.Setenv("GEMINI_API_KEY", "sekrit")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.DatabasePath)
	assert.Equal(t, []uint32{3, 4, 5}, cfg.Sync.ShardIDs)
	assert.Equal(t, "sekrit", cfg.Embedding.GenAIAPIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Embedding.Provider = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retrieval.MinScore = 1.5
	assert.Error(t, cfg.Validate())
}
