//go:build sqlite_vec && cgo

package store

import (
	"context"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

const vecExtensionEnabled = true

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver so
	// every connection this package opens can call vec_distance_cosine.
	vec.Auto()
}

// vecSemanticSearch ranks inside SQLite with vec_distance_cosine over the
// stored blobs. The vector column is raw little-endian float32, which is
// exactly the blob format sqlite-vec expects. Distance 0 means identical,
// 2 means opposite, so score = 1 - distance/2 lands on the same [0,1]
// scale as the in-process scan.
func (s *Store) vecSemanticSearch(ctx context.Context, kind string, queryVec []float32, limit int, minScore float64) ([]VectorMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_key, vec_distance_cosine(vector, ?) AS distance
		FROM embeddings
		WHERE entity_kind = ? AND status = 'ok' AND vector IS NOT NULL AND dims = ?
		ORDER BY distance ASC, entity_key ASC
		LIMIT ?`,
		encodeVector(queryVec), kind, len(queryVec), limit)
	if err != nil {
		return nil, fmt.Errorf("ranking %s embeddings: %w", kind, err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var key string
		var distance float64
		if err := rows.Scan(&key, &distance); err != nil {
			return nil, fmt.Errorf("scanning vector match: %w", err)
		}
		score := 1 - distance/2
		if score < minScore {
			break
		}
		matches = append(matches, VectorMatch{Key: key, Score: score})
	}
	return matches, rows.Err()
}
