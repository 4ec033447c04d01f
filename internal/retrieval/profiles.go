package retrieval

import (
	"context"
	"fmt"

	"castlight/internal/embedding"
	"castlight/internal/store"
)

// ProfileRetriever searches the profile projection.
type ProfileRetriever struct {
	store    *store.Store
	embedder embedding.Engine
}

// NewProfileRetriever creates a ProfileRetriever. embedder may be nil, in
// which case semantic searches report an error and hybrid degrades to
// keyword.
func NewProfileRetriever(st *store.Store, embedder embedding.Engine) *ProfileRetriever {
	return &ProfileRetriever{store: st, embedder: embedder}
}

// Semantic ranks profiles by embedding similarity to the query. Keys come
// back as ordered fids with their scores.
func (r *ProfileRetriever) Semantic(ctx context.Context, query string, limit int, minScore float64) ([]ProfileResult, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("no embedding engine configured")
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	matches, err := r.store.SemanticSearch(ctx, store.EmbeddingKindProfile, vec, limit, minScore)
	if err != nil {
		return nil, err
	}

	fids := make([]uint64, 0, len(matches))
	for _, m := range matches {
		if fid, ok := store.FidFromProfileKey(m.Key); ok {
			fids = append(fids, fid)
		}
	}
	profiles, err := r.store.ProfilesByFids(ctx, fids)
	if err != nil {
		return nil, err
	}

	out := make([]ProfileResult, 0, len(matches))
	for _, m := range matches {
		fid, ok := store.FidFromProfileKey(m.Key)
		if !ok {
			continue
		}
		p, ok := profiles[fid]
		if !ok {
			continue
		}
		out = append(out, ProfileResult{Profile: p, Score: m.Score})
	}
	return out, nil
}

// Keyword matches the query term against username, display name, bio, and
// location. Exact matches all score alike; ordering comes from the store.
func (r *ProfileRetriever) Keyword(ctx context.Context, query string, limit int) ([]ProfileResult, error) {
	profiles, err := r.store.SearchProfiles(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ProfileResult, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, ProfileResult{Profile: p, Score: 1.0})
	}
	return out, nil
}
