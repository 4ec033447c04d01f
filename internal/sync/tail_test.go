package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castlight/internal/replication"
	"castlight/internal/store"
)

// streamClient serves catch-up from the embedded fakeClient and hands out
// scripted streams in order.
type streamClient struct {
	fakeClient
	smu        stdsync.Mutex
	streams    []*fakeStream
	subscribes int
}

func (c *streamClient) Subscribe(ctx context.Context, shardID uint32, fromHeight uint64) (replication.Stream, error) {
	c.smu.Lock()
	defer c.smu.Unlock()
	if len(c.streams) == 0 {
		return nil, &replication.StatusError{Code: 503}
	}
	s := c.streams[0]
	c.streams = c.streams[1:]
	c.subscribes++
	return s, nil
}

func (c *streamClient) subscribeCount() int {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.subscribes
}

// fakeStream delivers its queue, then returns err once, or blocks until the
// receive context dies when err is nil.
type fakeStream struct {
	mu   stdsync.Mutex
	msgs []replication.Envelope
	err  error
}

func (s *fakeStream) Recv(ctx context.Context) (replication.Envelope, error) {
	s.mu.Lock()
	if len(s.msgs) > 0 {
		m := s.msgs[0]
		s.msgs = s.msgs[1:]
		s.mu.Unlock()
		return m, nil
	}
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return replication.Envelope{}, err
	}
	<-ctx.Done()
	return replication.Envelope{}, ctx.Err()
}

func (s *fakeStream) Close() error { return nil }

func TestWorkerTailFlushesQuietFeedOnAge(t *testing.T) {
	st := openTestStore(t)
	client := &streamClient{streams: []*fakeStream{
		{msgs: []replication.Envelope{castEnv(t, "t1", 1, 10, "tailing")}},
	}}

	cfg := testSyncConfig()
	cfg.Realtime = true
	cfg.BatchSize = 100
	cfg.BatchMaxAge = 20 * time.Millisecond
	w := NewWorker(1, client, st, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// one staged message, far below the size bound: only age commits it
	waitFor(t, 2*time.Second, func() bool {
		prog, err := st.Progress(context.Background(), 1)
		return err == nil && prog.LastProcessedHeight == 10
	})

	w.RequestDrain()
	require.NoError(t, <-done)

	casts, err := st.ListCasts(context.Background(), store.CastFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, casts, 1)
	assert.Equal(t, "tailing", casts[0].Text)
}

func TestWorkerTailResubscribesAfterTransientStreamError(t *testing.T) {
	st := openTestStore(t)
	client := &streamClient{streams: []*fakeStream{
		{
			msgs: []replication.Envelope{castEnv(t, "t1", 1, 10, "before the drop")},
			err:  &replication.StatusError{Code: 503},
		},
		{msgs: []replication.Envelope{castEnv(t, "t2", 1, 11, "after resubscribing")}},
	}}

	cfg := testSyncConfig()
	cfg.Realtime = true
	cfg.BatchSize = 100
	cfg.BatchMaxAge = 20 * time.Millisecond
	w := NewWorker(1, client, st, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		prog, err := st.Progress(context.Background(), 1)
		return err == nil && prog.LastProcessedHeight == 11
	})

	w.RequestDrain()
	require.NoError(t, <-done)
	assert.Equal(t, 2, client.subscribeCount())

	casts, err := st.ListCasts(context.Background(), store.CastFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, casts, 2, "messages from both streams committed")
}
