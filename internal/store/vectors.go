package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"castlight/internal/embedding"
)

// Embedding entity kinds.
const (
	EmbeddingKindCast    = "cast"
	EmbeddingKindProfile = "profile"
)

// Embedding row statuses. Failed rows are retried by the next backfill run.
const (
	EmbeddingStatusOK     = "ok"
	EmbeddingStatusFailed = "failed"
)

// EmbeddingCandidate is an entity row that still needs a vector.
type EmbeddingCandidate struct {
	Key        string
	Kind       string
	SourceText string
}

// VectorMatch is one semantic search hit. Score is cosine similarity
// rescaled to [0,1].
type VectorMatch struct {
	Key   string
	Score float64
}

// UpsertEmbedding stores or replaces an entity's vector.
func (s *Store) UpsertEmbedding(ctx context.Context, key, kind string, vector []float32, sourceText string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (entity_key, entity_kind, vector, dims, source_text, status, updated_at)
		VALUES (?, ?, ?, ?, ?, 'ok', CURRENT_TIMESTAMP)
		ON CONFLICT(entity_key) DO UPDATE SET
			vector = excluded.vector,
			dims = excluded.dims,
			source_text = excluded.source_text,
			status = 'ok',
			updated_at = CURRENT_TIMESTAMP`,
		key, kind, encodeVector(vector), len(vector), sourceText)
	if err != nil {
		return fmt.Errorf("upserting embedding %s: %w", key, err)
	}
	return nil
}

// MarkEmbeddingFailed records a backfill failure so the item is retried on
// the next run instead of being re-claimed forever within this one.
func (s *Store) MarkEmbeddingFailed(ctx context.Context, key, kind, sourceText string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (entity_key, entity_kind, vector, dims, source_text, status, updated_at)
		VALUES (?, ?, NULL, 0, ?, 'failed', CURRENT_TIMESTAMP)
		ON CONFLICT(entity_key) DO UPDATE SET
			status = 'failed',
			updated_at = CURRENT_TIMESTAMP`,
		key, kind, sourceText)
	if err != nil {
		return fmt.Errorf("marking embedding %s failed: %w", key, err)
	}
	return nil
}

// MissingEmbeddings lists entities of a kind with no usable vector, failed
// rows included.
func (s *Store) MissingEmbeddings(ctx context.Context, kind string, limit int) ([]EmbeddingCandidate, error) {
	switch kind {
	case EmbeddingKindCast:
		return s.missingCastEmbeddings(ctx, limit)
	case EmbeddingKindProfile:
		return s.missingProfileEmbeddings(ctx, limit)
	default:
		return nil, fmt.Errorf("unknown embedding kind %q", kind)
	}
}

func (s *Store) missingCastEmbeddings(ctx context.Context, limit int) ([]EmbeddingCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.message_hash, c.text FROM casts c
		WHERE c.removed_at IS NULL AND c.text IS NOT NULL AND c.text != ''
		  AND NOT EXISTS (
			SELECT 1 FROM embeddings e
			WHERE e.entity_key = c.message_hash AND e.status = 'ok'
		  )
		ORDER BY c.timestamp LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing casts without embeddings: %w", err)
	}
	defer rows.Close()

	var out []EmbeddingCandidate
	for rows.Next() {
		c := EmbeddingCandidate{Kind: EmbeddingKindCast}
		if err := rows.Scan(&c.Key, &c.SourceText); err != nil {
			return nil, fmt.Errorf("scanning embedding candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) missingProfileEmbeddings(ctx context.Context, limit int) ([]EmbeddingCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT fid FROM profile_changes pc
		WHERE NOT EXISTS (
			SELECT 1 FROM embeddings e
			WHERE e.entity_key = 'profile:' || pc.fid AND e.status = 'ok'
		)
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing profiles without embeddings: %w", err)
	}
	defer rows.Close()

	var fids []uint64
	for rows.Next() {
		var fid uint64
		if err := rows.Scan(&fid); err != nil {
			return nil, fmt.Errorf("scanning candidate fid: %w", err)
		}
		fids = append(fids, fid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]EmbeddingCandidate, 0, len(fids))
	for _, fid := range fids {
		p, err := s.ProfileByFid(ctx, fid)
		if err != nil {
			return nil, err
		}
		text := profileSourceText(p)
		if text == "" {
			continue
		}
		out = append(out, EmbeddingCandidate{
			Key:        ProfileEmbeddingKey(fid),
			Kind:       EmbeddingKindProfile,
			SourceText: text,
		})
	}
	return out, nil
}

// ProfileEmbeddingKey is the embeddings entity_key for a profile.
func ProfileEmbeddingKey(fid uint64) string {
	return "profile:" + strconv.FormatUint(fid, 10)
}

// FidFromProfileKey inverts ProfileEmbeddingKey.
func FidFromProfileKey(key string) (uint64, bool) {
	rest, ok := strings.CutPrefix(key, "profile:")
	if !ok {
		return 0, false
	}
	fid, err := strconv.ParseUint(rest, 10, 64)
	return fid, err == nil
}

func profileSourceText(p Profile) string {
	var parts []string
	for _, field := range []string{"username", "display_name", "bio", "location"} {
		if v := p.Fields[field]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

// SemanticSearch ranks entities of a kind by cosine similarity to the query
// vector. Returns at most limit matches with score >= minScore, best first.
// No eligible embeddings yields an empty result, not an error. Builds
// tagged sqlite_vec rank inside SQLite; otherwise the blobs are scanned in
// process.
func (s *Store) SemanticSearch(ctx context.Context, kind string, queryVec []float32, limit int, minScore float64) ([]VectorMatch, error) {
	if vecExtensionEnabled {
		return s.vecSemanticSearch(ctx, kind, queryVec, limit, minScore)
	}
	return s.scanSemanticSearch(ctx, kind, queryVec, limit, minScore)
}

func (s *Store) scanSemanticSearch(ctx context.Context, kind string, queryVec []float32, limit int, minScore float64) ([]VectorMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_key, vector FROM embeddings
		WHERE entity_kind = ? AND status = 'ok' AND vector IS NOT NULL`, kind)
	if err != nil {
		return nil, fmt.Errorf("loading %s embeddings: %w", kind, err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.log.Warn("skipping undecodable embedding", zap.String("key", key))
			continue
		}
		cos, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			// Dimension mismatch from a provider change; skip, backfill
			// will rewrite it.
			continue
		}
		score := (cos + 1) / 2
		if score < minScore {
			continue
		}
		matches = append(matches, VectorMatch{Key: key, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// EmbeddingCount returns how many usable vectors exist for a kind.
func (s *Store) EmbeddingCount(ctx context.Context, kind string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embeddings
		WHERE entity_kind = ? AND status = 'ok' AND vector IS NOT NULL`, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s embeddings: %w", kind, err)
	}
	return n, nil
}
