package replication

import "context"

// Client is the narrow interface the sync engine consumes. Implementations
// must be safe for concurrent use by one worker per shard.
type Client interface {
	// GetSnapshot returns the latest snapshot for a shard.
	GetSnapshot(ctx context.Context, shardID uint32) (Snapshot, error)

	// GetPage returns messages strictly above afterHeight, in height order,
	// bounded by pageSize, read against the given snapshot.
	GetPage(ctx context.Context, shardID uint32, snapshotID string, afterHeight uint64, pageSize int) (Page, error)

	// Subscribe opens a real-time message stream for a shard starting just
	// above fromHeight. The returned stream delivers messages in height
	// order until Close or context cancellation.
	Subscribe(ctx context.Context, shardID uint32, fromHeight uint64) (Stream, error)
}

// Stream is a live message feed for one shard.
type Stream interface {
	// Recv blocks until the next message, a stream error, or ctx is done.
	Recv(ctx context.Context) (Envelope, error)
	Close() error
}
