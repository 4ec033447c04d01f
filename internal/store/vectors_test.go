package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorBlobRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err, "blob length not a multiple of 4")
}

func TestSemanticSearchOrdersByScore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEmbedding(ctx, "close", EmbeddingKindCast, []float32{1, 0, 0}, "a"))
	require.NoError(t, s.UpsertEmbedding(ctx, "far", EmbeddingKindCast, []float32{-1, 0, 0}, "b"))
	require.NoError(t, s.UpsertEmbedding(ctx, "mid", EmbeddingKindCast, []float32{0, 1, 0}, "c"))

	matches, err := s.SemanticSearch(ctx, EmbeddingKindCast, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "close", matches[0].Key)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "mid", matches[1].Key)
	assert.InDelta(t, 0.5, matches[1].Score, 1e-6)
	assert.Equal(t, "far", matches[2].Key)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-6)
}

func TestSemanticSearchMinScoreAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEmbedding(ctx, "close", EmbeddingKindCast, []float32{1, 0, 0}, "a"))
	require.NoError(t, s.UpsertEmbedding(ctx, "far", EmbeddingKindCast, []float32{-1, 0, 0}, "b"))

	matches, err := s.SemanticSearch(ctx, EmbeddingKindCast, []float32{1, 0, 0}, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "close", matches[0].Key)

	matches, err = s.SemanticSearch(ctx, EmbeddingKindCast, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSemanticSearchKindIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEmbedding(ctx, "c1", EmbeddingKindCast, []float32{1, 0, 0}, "a"))
	require.NoError(t, s.UpsertEmbedding(ctx, "profile:1", EmbeddingKindProfile, []float32{1, 0, 0}, "b"))

	matches, err := s.SemanticSearch(ctx, EmbeddingKindProfile, []float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "profile:1", matches[0].Key)
}

func TestMissingEmbeddingsForCasts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &Batch{}
	b.Add(CastRow{MessageHash: "c1", Fid: 1, Text: "needs vector", Timestamp: 10, Provenance: prov(1)})
	b.Add(CastRow{MessageHash: "c2", Fid: 1, Text: "", Timestamp: 11, Provenance: prov(2)})
	b.Add(CastRow{MessageHash: "c3", Fid: 1, Text: "removed later", Timestamp: 12, Provenance: prov(3)})
	b.Add(CastTombstone{TargetHash: "c3", RemovedAt: 20, RemovedHash: "rm"})
	_, err := s.ApplyBatch(ctx, b)
	require.NoError(t, err)

	// empty and removed casts are never candidates
	pending, err := s.MissingEmbeddings(ctx, EmbeddingKindCast, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].Key)
	assert.Equal(t, "needs vector", pending[0].SourceText)

	require.NoError(t, s.UpsertEmbedding(ctx, "c1", EmbeddingKindCast, []float32{1}, "needs vector"))
	pending, err = s.MissingEmbeddings(ctx, EmbeddingKindCast, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFailedEmbeddingStaysPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &Batch{}
	b.Add(CastRow{MessageHash: "c1", Fid: 1, Text: "stubborn", Timestamp: 10, Provenance: prov(1)})
	_, err := s.ApplyBatch(ctx, b)
	require.NoError(t, err)

	require.NoError(t, s.MarkEmbeddingFailed(ctx, "c1", EmbeddingKindCast, "stubborn"))

	pending, err := s.MissingEmbeddings(ctx, EmbeddingKindCast, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	n, err := s.EmbeddingCount(ctx, EmbeddingKindCast)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestProfileEmbeddingKeyRoundTrip(t *testing.T) {
	key := ProfileEmbeddingKey(42)
	assert.Equal(t, "profile:42", key)

	fid, ok := FidFromProfileKey(key)
	assert.True(t, ok)
	assert.EqualValues(t, 42, fid)

	_, ok = FidFromProfileKey("cast-hash")
	assert.False(t, ok)
	_, ok = FidFromProfileKey("profile:notanumber")
	assert.False(t, ok)
}
