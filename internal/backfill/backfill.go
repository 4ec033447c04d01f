// Package backfill generates embeddings for synced rows that do not have
// one yet. It runs as a batch job: claim a chunk of pending rows, embed
// them with a bounded worker pool, and repeat until the backlog is empty.
package backfill

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

// Job fills in missing embeddings for one or more entity kinds.
type Job struct {
	store    *store.Store
	embedder embedding.Engine
	cfg      config.BackfillConfig
	log      *zap.Logger
}

// NewJob creates a backfill Job.
func NewJob(st *store.Store, embedder embedding.Engine, cfg config.BackfillConfig) *Job {
	return &Job{
		store:    st,
		embedder: embedder,
		cfg:      cfg,
		log:      logging.Get(logging.CategoryBackfill),
	}
}

// Result summarizes one Run.
type Result struct {
	Embedded int
	Failed   int
}

// Run drains the embedding backlog for the given kinds, both kinds when
// none are named. An item that keeps failing is marked failed and left for
// the next run; it never stalls the job.
func (j *Job) Run(ctx context.Context, kinds ...string) (Result, error) {
	if len(kinds) == 0 {
		kinds = []string{store.EmbeddingKindCast, store.EmbeddingKindProfile}
	}

	var total Result
	for _, kind := range kinds {
		res, err := j.runKind(ctx, kind)
		total.Embedded += res.Embedded
		total.Failed += res.Failed
		if err != nil {
			return total, err
		}
	}
	j.log.Info("backfill complete",
		zap.Int("embedded", total.Embedded), zap.Int("failed", total.Failed))
	return total, nil
}

func (j *Job) runKind(ctx context.Context, kind string) (Result, error) {
	var res Result
	attempted := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		candidates, err := j.store.MissingEmbeddings(ctx, kind, j.cfg.ChunkSize)
		if err != nil {
			return res, err
		}
		// items that already failed this run stay failed until the next one
		fresh := candidates[:0]
		for _, c := range candidates {
			if _, seen := attempted[c.Key]; !seen {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) == 0 {
			return res, nil
		}
		for _, c := range fresh {
			attempted[c.Key] = struct{}{}
		}
		j.log.Debug("claimed chunk", zap.String("kind", kind), zap.Int("count", len(fresh)))

		embedded, failed, err := j.embedChunk(ctx, fresh)
		res.Embedded += embedded
		res.Failed += failed
		if err != nil {
			return res, err
		}
	}
}

func (j *Job) embedChunk(ctx context.Context, candidates []store.EmbeddingCandidate) (int, int, error) {
	var embedded, failed int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Workers)
	results := make([]bool, len(candidates))

	for i, cand := range candidates {
		g.Go(func() error {
			vec, err := j.embedWithRetry(gctx, cand.SourceText)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				j.log.Warn("embedding failed",
					zap.String("key", cand.Key), zap.Error(err))
				return j.store.MarkEmbeddingFailed(gctx, cand.Key, cand.Kind, cand.SourceText)
			}
			if err := j.store.UpsertEmbedding(gctx, cand.Key, cand.Kind, vec, cand.SourceText); err != nil {
				return err
			}
			results[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return embedded, failed, err
	}

	for _, ok := range results {
		if ok {
			embedded++
		} else {
			failed++
		}
	}
	return embedded, failed, nil
}

func (j *Job) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	backoff := j.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= j.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		vec, err := j.embedder.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
