//go:build !sqlite_vec || !cgo

package store

import "context"

const vecExtensionEnabled = false

func (s *Store) vecSemanticSearch(ctx context.Context, kind string, queryVec []float32, limit int, minScore float64) ([]VectorMatch, error) {
	return s.scanSemanticSearch(ctx, kind, queryVec, limit, minScore)
}
