package sync

import (
	"context"
	"encoding/json"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castlight/internal/config"
	"castlight/internal/replication"
	"castlight/internal/store"
)

// fakeClient serves a fixed message log. GetPage slices by height, so test
// messages need distinct heights.
type fakeClient struct {
	mu       stdsync.Mutex
	msgs     []replication.Envelope
	pageErrs int // fail this many GetPage calls first
	snapErrs int
}

func (f *fakeClient) tip() uint64 {
	var tip uint64
	for _, m := range f.msgs {
		if m.Height > tip {
			tip = m.Height
		}
	}
	return tip
}

func (f *fakeClient) GetSnapshot(ctx context.Context, shardID uint32) (replication.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapErrs > 0 {
		f.snapErrs--
		return replication.Snapshot{}, &replication.StatusError{Code: 503}
	}
	return replication.Snapshot{ID: "snap-1", ShardID: shardID, TipHeight: f.tip()}, nil
}

func (f *fakeClient) GetPage(ctx context.Context, shardID uint32, snapshotID string, afterHeight uint64, pageSize int) (replication.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErrs > 0 {
		f.pageErrs--
		return replication.Page{}, &replication.StatusError{Code: 503}
	}
	var page replication.Page
	for _, m := range f.msgs {
		if m.Height <= afterHeight {
			continue
		}
		page.Messages = append(page.Messages, m)
		if len(page.Messages) == pageSize {
			break
		}
	}
	last := afterHeight
	if n := len(page.Messages); n > 0 {
		last = page.Messages[n-1].Height
	}
	page.HasMore = last < f.tip()
	return page, nil
}

func (f *fakeClient) Subscribe(ctx context.Context, shardID uint32, fromHeight uint64) (replication.Stream, error) {
	return nil, errors.New("not implemented")
}

// failStorage wraps a real store and fails the first applyErrs batch
// applies.
type failStorage struct {
	*store.Store
	mu        stdsync.Mutex
	applyErrs int
	applied   int
}

func (f *failStorage) ApplyBatch(ctx context.Context, b *store.Batch) (store.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErrs > 0 {
		f.applyErrs--
		return store.BatchResult{}, errors.New("disk full")
	}
	f.applied++
	return f.Store.ApplyBatch(ctx, b)
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		BatchSize:    2,
		BatchMaxAge:  time.Second,
		PageSize:     3,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		Realtime:     false,
	}
}

func castEnv(t *testing.T, hash string, fid, height uint64, text string) replication.Envelope {
	t.Helper()
	body, err := json.Marshal(replication.CastAddBody{Text: text})
	require.NoError(t, err)
	return replication.Envelope{
		Hash: hash, Type: replication.MessageTypeCastAdd,
		Fid: fid, Timestamp: int64(1700000000 + height), Height: height, Body: body,
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWorkerCatchUpCommitsAndAdvances(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{msgs: []replication.Envelope{
		castEnv(t, "c1", 1, 10, "first"),
		castEnv(t, "c2", 1, 11, "second"),
		castEnv(t, "c3", 2, 12, "third"),
		castEnv(t, "c4", 2, 13, "fourth"),
		castEnv(t, "c5", 3, 14, "fifth"),
	}}

	w := NewWorker(1, client, st, testSyncConfig())
	ctx := context.Background()
	prog, err := st.Progress(ctx, 1)
	require.NoError(t, err)
	w.committed = prog.LastProcessedHeight
	w.pending = w.committed
	require.NoError(t, w.catchUp(ctx))

	prog, err = st.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), prog.LastProcessedHeight)

	casts, err := st.ListCasts(ctx, store.CastFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, casts, 5)

	stats, err := st.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.TotalMessages)
}

func TestWorkerRetriesTransientPageErrors(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{
		msgs:     []replication.Envelope{castEnv(t, "c1", 1, 10, "only")},
		snapErrs: 1,
		pageErrs: 2,
	}

	w := NewWorker(1, client, st, testSyncConfig())
	require.NoError(t, w.catchUp(context.Background()))

	prog, err := st.Progress(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), prog.LastProcessedHeight)
}

func TestWorkerCursorHoldsWhenFlushFails(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{msgs: []replication.Envelope{
		castEnv(t, "c1", 1, 10, "first"),
		castEnv(t, "c2", 1, 11, "second"),
	}}
	// more failures than retries: the flush never succeeds
	fs := &failStorage{Store: st, applyErrs: 10}

	cfg := testSyncConfig()
	cfg.MaxRetries = 1
	w := NewWorker(1, client, fs, cfg)
	err := w.catchUp(context.Background())
	require.Error(t, err)

	prog, perr := st.Progress(context.Background(), 1)
	require.NoError(t, perr)
	assert.Equal(t, uint64(0), prog.LastProcessedHeight, "cursor must not advance past an uncommitted batch")

	casts, cerr := st.ListCasts(context.Background(), store.CastFilter{}, 10)
	require.NoError(t, cerr)
	assert.Empty(t, casts)
}

func TestWorkerFlushRetrySucceedsThenAdvances(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{msgs: []replication.Envelope{
		castEnv(t, "c1", 1, 10, "first"),
		castEnv(t, "c2", 1, 11, "second"),
	}}
	fs := &failStorage{Store: st, applyErrs: 2}

	w := NewWorker(1, client, fs, testSyncConfig())
	require.NoError(t, w.catchUp(context.Background()))

	prog, err := st.Progress(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), prog.LastProcessedHeight)
}

func TestWorkerReingestIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	msgs := []replication.Envelope{
		castEnv(t, "c1", 1, 10, "first"),
		castEnv(t, "c2", 1, 11, "second"),
		castEnv(t, "c3", 2, 12, "third"),
	}
	client := &fakeClient{msgs: msgs}
	ctx := context.Background()

	w := NewWorker(1, client, st, testSyncConfig())
	require.NoError(t, w.catchUp(ctx))

	// a fresh worker replaying from zero, as after a crash before advance
	w2 := NewWorker(1, client, st, testSyncConfig())
	require.NoError(t, w2.catchUp(ctx))

	casts, err := st.ListCasts(ctx, store.CastFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, casts, 3, "replayed messages must not duplicate rows")

	prog, err := st.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), prog.LastProcessedHeight)
}

func TestWorkerOnceStopsAfterCatchUp(t *testing.T) {
	st := openTestStore(t)
	client := &fakeClient{msgs: []replication.Envelope{
		castEnv(t, "c1", 1, 10, "only"),
	}}
	cfg := testSyncConfig()
	cfg.Once = true
	w := NewWorker(1, client, st, cfg)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker kept running after catch-up")
	}

	prog, err := st.Progress(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), prog.LastProcessedHeight)
}

func TestWorkerCursorIsMonotonic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.AdvanceHeight(ctx, 1, 50))
	require.NoError(t, st.AdvanceHeight(ctx, 1, 20))

	prog, err := st.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), prog.LastProcessedHeight)
}

func TestWorkerSkipsBadMessages(t *testing.T) {
	st := openTestStore(t)
	good := castEnv(t, "c1", 1, 10, "kept")
	unknown := replication.Envelope{Hash: "u1", Type: 99, Height: 11, Body: json.RawMessage(`{}`)}
	malformed := replication.Envelope{Hash: "m1", Type: replication.MessageTypeCastAdd, Height: 12, Body: json.RawMessage(`{`)}
	client := &fakeClient{msgs: []replication.Envelope{good, unknown, malformed}}

	w := NewWorker(1, client, st, testSyncConfig())
	ctx := context.Background()
	require.NoError(t, w.catchUp(ctx))

	casts, err := st.ListCasts(ctx, store.CastFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, casts, 1)
	assert.Equal(t, "kept", casts[0].Text)

	// skipped heights are still advanced past
	prog, err := st.Progress(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), prog.LastProcessedHeight)
}

func TestBatcherDedupesWithinBatch(t *testing.T) {
	st := openTestStore(t)
	b := NewBatcher(st, 10, time.Minute)

	e := castEnv(t, "dup", 1, 10, "once")
	row := store.CastRow{MessageHash: "dup", Fid: 1, Text: "once", Timestamp: 1}
	b.Offer(e, 1, row)
	b.Offer(e, 1, row)
	assert.Equal(t, 1, b.Len())

	res, err := b.Flush(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Inserted) // ledger row + cast row
	assert.Equal(t, 0, b.Len())

	// empty flush is a no-op
	res, err = b.Flush(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Inserted)
}

func TestBatcherShouldFlush(t *testing.T) {
	st := openTestStore(t)
	b := NewBatcher(st, 2, 10*time.Millisecond)
	assert.False(t, b.ShouldFlush())

	b.Offer(castEnv(t, "a", 1, 1, "a"), 1, store.CastRow{MessageHash: "a", Fid: 1})
	assert.False(t, b.ShouldFlush())

	b.Offer(castEnv(t, "b", 1, 2, "b"), 1, store.CastRow{MessageHash: "b", Fid: 1})
	assert.True(t, b.ShouldFlush(), "size bound")

	require.NoError(t, flushOK(b))
	b.Offer(castEnv(t, "c", 1, 3, "c"), 1, store.CastRow{MessageHash: "c", Fid: 1})
	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.ShouldFlush(), "age bound")
}

func flushOK(b *Batcher) error {
	_, err := b.Flush(context.Background())
	return err
}
