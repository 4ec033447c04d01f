package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"castlight/internal/config"
	"castlight/internal/embedding"
	"castlight/internal/logging"
	"castlight/internal/store"
)

// Engine orchestrates one search: strategy selection, retriever fan-out,
// rank fusion, and context assembly.
type Engine struct {
	profiles  *ProfileRetriever
	casts     *CastRetriever
	assembler *ContextAssembler
	cfg       config.RetrievalConfig
	log       *zap.Logger
}

// NewEngine creates an Engine. embedder may be nil; semantic strategies
// then degrade to keyword.
func NewEngine(st *store.Store, embedder embedding.Engine, cfg config.RetrievalConfig) *Engine {
	return &Engine{
		profiles:  NewProfileRetriever(st, embedder),
		casts:     NewCastRetriever(st, embedder),
		assembler: NewContextAssembler(cfg.MaxContextLength),
		cfg:       cfg,
		log:       logging.Get(logging.CategoryRetrieval),
	}
}

// Casts exposes the cast retriever for thread lookups.
func (e *Engine) Casts() *CastRetriever { return e.casts }

// Search runs one query end to end. The semantic branch failing or timing
// out never fails the search: the response degrades to keyword results and
// says so.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*Response, error) {
	start := time.Now()
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = e.cfg.MinScore
	}

	strategy := ClassifyQuery(query)
	if opts.Strategy != nil {
		strategy = *opts.Strategy
	}

	resp := &Response{Query: query, Strategy: strategy}

	searchProfiles := !opts.CastsOnly
	searchCasts := !opts.ProfilesOnly

	if e.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SearchTimeout)
		defer cancel()
	}

	var profilesDegraded, castsDegraded bool
	g, gctx := errgroup.WithContext(ctx)
	if searchProfiles {
		g.Go(func() error {
			results, degraded, err := e.searchProfiles(gctx, query, strategy, limit, minScore)
			if err != nil {
				return err
			}
			resp.Profiles = results
			profilesDegraded = degraded
			return nil
		})
	}
	if searchCasts {
		g.Go(func() error {
			results, degraded, err := e.searchCasts(gctx, query, strategy, opts.Filter, limit, minScore)
			if err != nil {
				return err
			}
			resp.Casts = results
			castsDegraded = degraded
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	resp.Degraded = profilesDegraded || castsDegraded

	resp.Context = e.assembler.Assemble(resp.Profiles, resp.Casts)
	resp.Elapsed = time.Since(start)
	e.log.Debug("search complete",
		zap.String("strategy", strategy.String()),
		zap.Bool("degraded", resp.Degraded),
		zap.Int("profiles", len(resp.Profiles)),
		zap.Int("casts", len(resp.Casts)),
		zap.Duration("elapsed", resp.Elapsed))
	return resp, nil
}

// semanticCtx bounds the semantic branch separately from the whole call,
// so its expiry is a degrade signal rather than a search failure. With no
// configured bound it gets half of the budget remaining on ctx.
func (e *Engine) semanticCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.SemanticTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.SemanticTimeout)
	}
	if dl, ok := ctx.Deadline(); ok {
		if budget := time.Until(dl) / 2; budget > 0 {
			return context.WithTimeout(ctx, budget)
		}
	}
	return context.WithCancel(ctx)
}

func (e *Engine) searchProfiles(ctx context.Context, query string, strategy Strategy, limit int, minScore float64) ([]ProfileResult, bool, error) {
	switch strategy {
	case StrategyKeyword:
		out, err := e.profiles.Keyword(ctx, query, limit)
		return out, false, err

	case StrategySemantic:
		semCtx, cancel := e.semanticCtx(ctx)
		out, err := e.profiles.Semantic(semCtx, query, limit, minScore)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			e.log.Warn("semantic profile search degraded", zap.Error(err))
			out, kerr := e.profiles.Keyword(ctx, query, limit)
			return out, true, kerr
		}
		return out, false, nil

	case StrategyHybrid:
		semCtx, cancel := e.semanticCtx(ctx)
		defer cancel()
		type semOut struct {
			results []ProfileResult
			err     error
		}
		semCh := make(chan semOut, 1)
		go func() {
			out, err := e.profiles.Semantic(semCtx, query, limit, minScore)
			semCh <- semOut{out, err}
		}()
		keyword, kerr := e.profiles.Keyword(ctx, query, limit)
		sem := <-semCh
		if kerr != nil {
			return nil, false, kerr
		}
		if sem.err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			e.log.Warn("hybrid profile search degraded", zap.Error(sem.err))
			return keyword, true, nil
		}
		return fuseProfiles(sem.results, keyword, limit), false, nil
	}
	return nil, false, nil
}

func (e *Engine) searchCasts(ctx context.Context, query string, strategy Strategy, filter store.CastFilter, limit int, minScore float64) ([]CastResult, bool, error) {
	switch strategy {
	case StrategyKeyword:
		out, err := e.casts.Keyword(ctx, query, filter, limit)
		return out, false, err

	case StrategySemantic:
		semCtx, cancel := e.semanticCtx(ctx)
		out, err := e.casts.Semantic(semCtx, query, filter, limit, minScore)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			e.log.Warn("semantic cast search degraded", zap.Error(err))
			out, kerr := e.casts.Keyword(ctx, query, filter, limit)
			return out, true, kerr
		}
		return out, false, nil

	case StrategyHybrid:
		semCtx, cancel := e.semanticCtx(ctx)
		defer cancel()
		type semOut struct {
			results []CastResult
			err     error
		}
		semCh := make(chan semOut, 1)
		go func() {
			out, err := e.casts.Semantic(semCtx, query, filter, limit, minScore)
			semCh <- semOut{out, err}
		}()
		keyword, kerr := e.casts.Keyword(ctx, query, filter, limit)
		sem := <-semCh
		if kerr != nil {
			return nil, false, kerr
		}
		if sem.err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			e.log.Warn("hybrid cast search degraded", zap.Error(sem.err))
			return keyword, true, nil
		}
		return fuseCasts(sem.results, keyword, limit), false, nil
	}
	return nil, false, nil
}

func fuseProfiles(semantic, keyword []ProfileResult, limit int) []ProfileResult {
	byFid := make(map[string]ProfileResult, len(semantic)+len(keyword))
	semKeys := make([]string, len(semantic))
	for i, r := range semantic {
		key := store.ProfileEmbeddingKey(r.Profile.Fid)
		semKeys[i] = key
		byFid[key] = r
	}
	keyKeys := make([]string, len(keyword))
	for i, r := range keyword {
		key := store.ProfileEmbeddingKey(r.Profile.Fid)
		keyKeys[i] = key
		if _, ok := byFid[key]; !ok {
			byFid[key] = r
		}
	}

	fused := fuseRanked(semKeys, keyKeys)
	out := make([]ProfileResult, 0, limit)
	for _, it := range fused {
		r := byFid[it.key]
		r.Score = it.score
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}

func fuseCasts(semantic, keyword []CastResult, limit int) []CastResult {
	byHash := make(map[string]CastResult, len(semantic)+len(keyword))
	semKeys := make([]string, len(semantic))
	for i, r := range semantic {
		semKeys[i] = r.Cast.MessageHash
		byHash[r.Cast.MessageHash] = r
	}
	keyKeys := make([]string, len(keyword))
	for i, r := range keyword {
		keyKeys[i] = r.Cast.MessageHash
		if _, ok := byHash[r.Cast.MessageHash]; !ok {
			byHash[r.Cast.MessageHash] = r
		}
	}

	fused := fuseRanked(semKeys, keyKeys)
	out := make([]CastResult, 0, limit)
	for _, it := range fused {
		r := byHash[it.key]
		r.Score = it.score
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}
