package retrieval

import (
	"context"
	"fmt"

	"castlight/internal/embedding"
	"castlight/internal/store"
)

// CastRetriever searches cast text and reconstructs threads.
type CastRetriever struct {
	store    *store.Store
	embedder embedding.Engine
}

// NewCastRetriever creates a CastRetriever. embedder may be nil; see
// NewProfileRetriever.
func NewCastRetriever(st *store.Store, embedder embedding.Engine) *CastRetriever {
	return &CastRetriever{store: st, embedder: embedder}
}

// Semantic ranks casts by embedding similarity to the query.
func (r *CastRetriever) Semantic(ctx context.Context, query string, filter store.CastFilter, limit int, minScore float64) ([]CastResult, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("no embedding engine configured")
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	// over-fetch so post-filtering does not starve the result set
	matches, err := r.store.SemanticSearch(ctx, store.EmbeddingKindCast, vec, limit*4, minScore)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(matches))
	for _, m := range matches {
		hashes = append(hashes, m.Key)
	}
	casts, err := r.store.CastsByHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}

	out := make([]CastResult, 0, limit)
	for _, m := range matches {
		c, ok := casts[m.Key]
		if !ok || !matchesFilter(c, filter) {
			continue
		}
		out = append(out, CastResult{Cast: c, Score: m.Score})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Keyword matches the query as a substring of cast text.
func (r *CastRetriever) Keyword(ctx context.Context, query string, filter store.CastFilter, limit int) ([]CastResult, error) {
	casts, err := r.store.SearchCastText(ctx, query, filter, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CastResult, 0, len(casts))
	for _, c := range casts {
		out = append(out, CastResult{Cast: c, Score: 1.0})
	}
	return out, nil
}

func matchesFilter(c store.Cast, f store.CastFilter) bool {
	if f.Fid != 0 && c.Fid != f.Fid {
		return false
	}
	if f.ParentHash != "" && c.ParentHash != f.ParentHash {
		return false
	}
	if f.StartTimestamp != 0 && c.Timestamp < f.StartTimestamp {
		return false
	}
	if f.EndTimestamp != 0 && c.Timestamp > f.EndTimestamp {
		return false
	}
	if c.Removed && !f.IncludeRemoved {
		return false
	}
	return true
}

// Thread reconstructs a cast's conversation: ancestors up to maxDepth
// hops, the cast itself, and its direct replies. The ancestor walk stops
// quietly at the first parent that was never synced.
func (r *CastRetriever) Thread(ctx context.Context, messageHash string, maxDepth, replyLimit int) (*Thread, error) {
	cast, err := r.store.CastByHash(ctx, messageHash)
	if err != nil {
		return nil, err
	}
	if cast == nil {
		return nil, fmt.Errorf("cast %s not found", messageHash)
	}

	var ancestors []store.Cast
	parent := cast.ParentHash
	for depth := 0; depth < maxDepth && parent != ""; depth++ {
		p, err := r.store.CastByHash(ctx, parent)
		if err != nil {
			return nil, err
		}
		if p == nil {
			break
		}
		// prepend: root ends up first
		ancestors = append([]store.Cast{*p}, ancestors...)
		parent = p.ParentHash
	}

	replies, err := r.store.CastsByParent(ctx, messageHash, replyLimit)
	if err != nil {
		return nil, err
	}

	return &Thread{Ancestors: ancestors, Cast: *cast, Replies: replies}, nil
}
