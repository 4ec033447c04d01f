package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"castlight/internal/config"
	"castlight/internal/logging"
	"castlight/internal/replication"
)

// Coordinator owns the sync run: it takes the single-run lock, spawns one
// worker per configured shard, and fans a stop out to all of them. Workers
// are independent; one shard failing does not stop the others.
type Coordinator struct {
	client  replication.Client
	storage Storage
	lock    *runLock
	cfg     config.SyncConfig
	log     *zap.Logger

	mu      stdsync.Mutex
	workers []*Worker
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
	running bool
}

// NewCoordinator creates a Coordinator. The store passed as Storage must
// also implement LockStore; *store.Store does.
func NewCoordinator(client replication.Client, storage Storage, locks LockStore, cfg config.SyncConfig) *Coordinator {
	return &Coordinator{
		client:  client,
		storage: storage,
		lock:    newRunLock(locks),
		cfg:     cfg,
		log:     logging.Get(logging.CategorySync),
	}
}

// Start acquires the lock and launches one worker per shard. It returns
// once all workers are running; use Wait or Stop afterwards.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("sync already running")
	}
	if len(c.cfg.ShardIDs) == 0 {
		return errors.New("no shards configured")
	}

	if err := c.lock.Acquire(ctx, c.cfg.ShardIDs); err != nil {
		return fmt.Errorf("acquiring sync lock: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.workers = make([]*Worker, 0, len(c.cfg.ShardIDs))

	for _, shardID := range c.cfg.ShardIDs {
		w := NewWorker(shardID, c.client, c.storage, c.cfg)
		c.workers = append(c.workers, w)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				c.log.Error("worker exited", zap.Uint32("shard", w.shardID), zap.Error(err))
			}
		}()
	}
	c.running = true
	c.log.Info("sync started", zap.Int("shards", len(c.workers)))
	return nil
}

// Wait blocks until every worker has exited.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Stop ends the run. force cancels workers mid-batch, dropping uncommitted
// rows; otherwise each worker drains at its next flush boundary. The lock
// is released either way.
func (c *Coordinator) Stop(ctx context.Context, force bool) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	workers := c.workers
	cancel := c.cancel
	c.mu.Unlock()

	if force {
		c.log.Info("stopping sync (forced)")
		cancel()
	} else {
		c.log.Info("stopping sync (draining)")
		for _, w := range workers {
			w.RequestDrain()
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// drain overran its deadline; hard-cancel what is left
		cancel()
		<-done
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	if err := c.lock.Release(rctx); err != nil {
		return fmt.Errorf("releasing sync lock: %w", err)
	}
	c.log.Info("sync stopped")
	return nil
}

// Status reports every worker's state, ordered by shard id.
func (c *Coordinator) Status() []WorkerStatus {
	c.mu.Lock()
	workers := c.workers
	c.mu.Unlock()

	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	return out
}
