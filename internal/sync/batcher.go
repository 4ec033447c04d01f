package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"castlight/internal/logging"
	"castlight/internal/replication"
	"castlight/internal/store"
)

// Storage is the slice of the store the sync engine writes through.
// Narrow so worker tests can inject a failing implementation.
type Storage interface {
	ApplyBatch(ctx context.Context, b *store.Batch) (store.BatchResult, error)
	Progress(ctx context.Context, shardID uint32) (store.ShardProgress, error)
	AdvanceHeight(ctx context.Context, shardID uint32, height uint64) error
	SetShardStatus(ctx context.Context, shardID uint32, status, errMsg string) error
	AddStats(ctx context.Context, shardID uint32, messages, blocks uint64) error
}

// Batcher accumulates dispatched rows for one shard and flushes them in a
// single transaction. It deduplicates within the open batch by message
// hash; cross-batch duplicates are absorbed by the store's insert-if-absent
// writes. Safe for a status reader concurrent with the owning worker.
type Batcher struct {
	storage Storage
	size    int
	maxAge  time.Duration
	log     *zap.Logger

	mu      stdsync.Mutex
	batch   *store.Batch
	staged  map[string]struct{}
	skipped int
	opened  time.Time
}

// NewBatcher creates a Batcher that wants flushing at size rows or maxAge
// after the first stage, whichever comes first.
func NewBatcher(storage Storage, size int, maxAge time.Duration) *Batcher {
	return &Batcher{
		storage: storage,
		size:    size,
		maxAge:  maxAge,
		log:     logging.Get(logging.CategorySync),
		batch:   &store.Batch{},
		staged:  make(map[string]struct{}),
	}
}

// Offer stages one dispatched row together with its idempotency ledger
// entry. A hash already staged in the open batch is dropped.
func (b *Batcher) Offer(env replication.Envelope, shardID uint32, row store.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.staged[env.Hash]; ok {
		b.skipped++
		return
	}
	if len(b.staged) == 0 {
		b.opened = time.Now()
	}
	b.staged[env.Hash] = struct{}{}
	b.batch.Processed = append(b.batch.Processed, store.ProcessedMessage{
		MessageHash: env.Hash,
		Fid:         env.Fid,
		MessageType: env.Type.String(),
		Timestamp:   env.Timestamp,
		Provenance: store.Provenance{
			ShardID:        shardID,
			BlockHeight:    env.Height,
			TransactionFid: env.TransactionFid,
		},
	})
	b.batch.Add(row)
}

// Len reports the number of distinct messages staged.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}

// ShouldFlush reports whether the open batch hit its size or age bound.
func (b *Batcher) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.staged) == 0 {
		return false
	}
	if len(b.staged) >= b.size {
		return true
	}
	return b.maxAge > 0 && time.Since(b.opened) >= b.maxAge
}

// Flush commits the open batch in one transaction and resets the batcher.
// An empty batch is a no-op. On error the batch stays staged so the caller
// can retry the flush whole.
func (b *Batcher) Flush(ctx context.Context) (store.BatchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.staged) == 0 {
		return store.BatchResult{}, nil
	}
	res, err := b.storage.ApplyBatch(ctx, b.batch)
	if err != nil {
		return store.BatchResult{}, err
	}
	if b.skipped > 0 {
		b.log.Debug("in-batch duplicates dropped", zap.Int("count", b.skipped))
	}
	b.batch = &store.Batch{}
	b.staged = make(map[string]struct{})
	b.skipped = 0
	return res, nil
}
