package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "castlight.db")

	s, err := Open(path)
	require.NoError(t, err)

	var version int
	require.NoError(t, s.DB().QueryRow(
		`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
	require.NoError(t, s.Close())

	// reopening an already-migrated database is a no-op
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.DB().QueryRow(
		`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestStatsAccumulate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddStats(ctx, 1, 10, 3))
	require.NoError(t, s.AddStats(ctx, 1, 5, 2))
	require.NoError(t, s.AddStats(ctx, 2, 1, 1))

	st, err := s.Stats(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 15, st.TotalMessages)
	assert.EqualValues(t, 5, st.TotalBlocks)

	st, err = s.Stats(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 0, st.TotalMessages)
}

func TestListProgressOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AdvanceHeight(ctx, 2, 20))
	require.NoError(t, s.AdvanceHeight(ctx, 1, 10))

	list, err := s.ListProgress(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.EqualValues(t, 1, list[0].ShardID)
	assert.EqualValues(t, 2, list[1].ShardID)
}
