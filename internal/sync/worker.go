package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"castlight/internal/config"
	"castlight/internal/logging"
	"castlight/internal/replication"
	"castlight/internal/store"
)

// WorkerState is a shard worker's position in its run loop.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateFetching
	StateProcessing
	StateCommitting
	StateAdvancing
	StateRetrying
	StateFailed
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateCommitting:
		return "committing"
	case StateAdvancing:
		return "advancing"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// WorkerStatus is a point-in-time snapshot of one shard worker.
type WorkerStatus struct {
	ShardID   uint32
	State     WorkerState
	Height    uint64
	Staged    int
	LastError string
}

// Worker syncs one shard: it pages the historical log from the durable
// cursor to the snapshot tip, then tails the real-time feed. Rows reach
// the store only through batch commits, and the cursor advances only after
// the batch covering it committed. A crash between commit and advance
// replays messages the ledger already absorbs.
type Worker struct {
	shardID    uint32
	client     replication.Client
	storage    Storage
	dispatcher *Dispatcher
	batcher    *Batcher
	cfg        config.SyncConfig
	log        *zap.Logger

	// committed is the durable cursor; pending is the highest height staged
	// in the open batch. pending becomes committed at flush.
	committed uint64
	pending   uint64

	mu      stdsync.Mutex
	state   WorkerState
	lastErr error

	drainOnce stdsync.Once
	drain     chan struct{}
}

// NewWorker creates a Worker for one shard.
func NewWorker(shardID uint32, client replication.Client, storage Storage, cfg config.SyncConfig) *Worker {
	return &Worker{
		shardID:    shardID,
		client:     client,
		storage:    storage,
		dispatcher: NewDispatcher(),
		batcher:    NewBatcher(storage, cfg.BatchSize, cfg.BatchMaxAge),
		cfg:        cfg,
		log:        logging.Get(logging.CategorySync).With(zap.Uint32("shard", shardID)),
		drain:      make(chan struct{}),
	}
}

// RequestDrain asks the worker to stop at the next flush boundary,
// committing whatever is staged first.
func (w *Worker) RequestDrain() {
	w.drainOnce.Do(func() { close(w.drain) })
}

func (w *Worker) draining() bool {
	select {
	case <-w.drain:
		return true
	default:
		return false
	}
}

// Status reports the worker's current state.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := WorkerStatus{
		ShardID: w.shardID,
		State:   w.state,
		Height:  w.committed,
		Staged:  w.batcher.Len(),
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run drives the shard until the context is canceled, a drain completes,
// or retries are exhausted. The returned error is nil on a clean stop.
func (w *Worker) Run(ctx context.Context) error {
	prog, err := w.storage.Progress(ctx, w.shardID)
	if err != nil {
		return w.fail(ctx, err)
	}
	w.committed = prog.LastProcessedHeight
	w.pending = w.committed

	if err := w.storage.SetShardStatus(ctx, w.shardID, store.ShardStatusRunning, ""); err != nil {
		return w.fail(ctx, err)
	}
	w.log.Info("shard sync starting", zap.Uint64("cursor", w.committed))

	for {
		if err := w.catchUp(ctx); err != nil {
			return w.finish(err)
		}
		if w.cfg.Once || w.draining() {
			return w.finish(nil)
		}
		if w.cfg.Realtime {
			err := w.tail(ctx)
			if err != nil {
				return w.finish(err)
			}
			// tail returns nil only on drain
			return w.finish(nil)
		}
		select {
		case <-ctx.Done():
			return w.finish(ctx.Err())
		case <-w.drain:
			return w.finish(nil)
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// finish commits the terminal shard status. Cancellation and drains end
// idle; anything else ends in error.
func (w *Worker) finish(err error) error {
	// status writes after cancellation need their own context
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err == nil || errors.Is(err, context.Canceled) {
		w.setState(StateIdle)
		_ = w.storage.SetShardStatus(sctx, w.shardID, store.ShardStatusIdle, "")
		w.log.Info("shard sync stopped", zap.Uint64("cursor", w.committed))
		if errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	return w.fail(sctx, err)
}

func (w *Worker) fail(ctx context.Context, err error) error {
	w.mu.Lock()
	w.state = StateFailed
	w.lastErr = err
	w.mu.Unlock()
	_ = w.storage.SetShardStatus(ctx, w.shardID, store.ShardStatusError, err.Error())
	w.log.Error("shard sync failed", zap.Error(err))
	return err
}

// catchUp pages the historical log from the cursor to the snapshot tip,
// committing at batch boundaries.
func (w *Worker) catchUp(ctx context.Context) error {
	var snap replication.Snapshot
	err := w.retry(ctx, "snapshot", replication.IsTransient, func() error {
		var err error
		snap, err = w.client.GetSnapshot(ctx, w.shardID)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetching snapshot: %w", err)
	}
	if snap.TipHeight <= w.committed {
		return nil
	}
	w.log.Info("catching up",
		zap.Uint64("from", w.committed), zap.Uint64("tip", snap.TipHeight))

	for {
		w.setState(StateFetching)
		var page replication.Page
		err := w.retry(ctx, "page", replication.IsTransient, func() error {
			var err error
			page, err = w.client.GetPage(ctx, w.shardID, snap.ID, w.pending, w.cfg.PageSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("fetching page after height %d: %w", w.pending, err)
		}

		w.setState(StateProcessing)
		for _, env := range page.Messages {
			w.ingest(env)
			if w.batcher.ShouldFlush() {
				if err := w.commit(ctx); err != nil {
					return err
				}
			}
		}

		if !page.HasMore || w.draining() {
			return w.commit(ctx)
		}
	}
}

// tail follows the real-time feed. Returns nil on drain; the transient
// classifier governs resubscription on stream errors.
func (w *Worker) tail(ctx context.Context) error {
	for {
		var stream replication.Stream
		err := w.retry(ctx, "subscribe", replication.IsTransient, func() error {
			var err error
			stream, err = w.client.Subscribe(ctx, w.shardID, w.committed)
			return err
		})
		if err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
		w.log.Info("tailing", zap.Uint64("from", w.committed))

		err = w.consume(ctx, stream)
		stream.Close()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled):
			return err
		case replication.IsTransient(err):
			w.log.Warn("stream interrupted, resubscribing", zap.Error(err))
		default:
			return fmt.Errorf("stream: %w", err)
		}
	}
}

func (w *Worker) consume(ctx context.Context, stream replication.Stream) error {
	maxAge := w.cfg.BatchMaxAge
	if maxAge <= 0 {
		maxAge = time.Second
	}
	for {
		if w.draining() {
			return w.commit(ctx)
		}
		w.setState(StateFetching)

		// bounded receive so a quiet feed still flushes on age
		rctx, cancel := context.WithTimeout(ctx, maxAge)
		env, err := stream.Recv(rctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				if err := w.commit(ctx); err != nil {
					return err
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		w.setState(StateProcessing)
		w.ingest(env)
		if w.batcher.ShouldFlush() {
			if err := w.commit(ctx); err != nil {
				return err
			}
		}
	}
}

// ingest dispatches one envelope into the open batch. Skips are logged,
// never fatal.
func (w *Worker) ingest(env replication.Envelope) {
	row, err := w.dispatcher.Dispatch(env, w.shardID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedMessageType):
			w.log.Debug("skipping message", zap.String("hash", env.Hash), zap.Error(err))
		default:
			w.log.Warn("skipping malformed message", zap.String("hash", env.Hash), zap.Error(err))
		}
	} else {
		w.batcher.Offer(env, w.shardID, row)
	}
	if env.Height > w.pending {
		w.pending = env.Height
	}
}

// commit flushes the open batch, then advances the cursor. The order is
// the crash-safety contract: data first, cursor second.
func (w *Worker) commit(ctx context.Context) error {
	if w.batcher.Len() == 0 && w.pending <= w.committed {
		return nil
	}

	staged := w.batcher.Len()
	w.setState(StateCommitting)
	var res store.BatchResult
	err := w.retry(ctx, "flush", storageTransient, func() error {
		var err error
		res, err = w.batcher.Flush(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("flushing batch: %w", err)
	}

	w.setState(StateAdvancing)
	height := w.pending
	err = w.retry(ctx, "advance", storageTransient, func() error {
		return w.storage.AdvanceHeight(ctx, w.shardID, height)
	})
	if err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}

	blocks := uint64(0)
	if height > w.committed {
		blocks = height - w.committed
	}
	if err := w.storage.AddStats(ctx, w.shardID, uint64(staged), blocks); err != nil {
		w.log.Warn("updating stats", zap.Error(err))
	}

	w.mu.Lock()
	w.committed = height
	w.mu.Unlock()
	w.log.Debug("batch committed",
		zap.Uint64("height", height),
		zap.Int("staged", staged),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int64("tombstoned", res.Tombstoned))
	return nil
}

// storageTransient treats every storage failure as retryable; cancellation
// is handled by the retry loop itself.
func storageTransient(error) bool { return true }

// retry runs fn with exponential backoff, up to MaxRetries waits, as long
// as the classifier calls the failure transient.
func (w *Worker) retry(ctx context.Context, op string, transient func(error) bool, fn func() error) error {
	backoff := w.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !transient(err) || attempt > w.cfg.MaxRetries {
			return err
		}
		w.setState(StateRetrying)
		w.log.Warn("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
