package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLockHeld is returned when another live coordinator owns the sync lock.
var ErrLockHeld = errors.New("sync lock held by another process")

// SyncLock is the single-coordinator marker row.
type SyncLock struct {
	Owner        string
	Pid          int
	TargetShards string
	StartedAt    time.Time
}

// GetSyncLock returns the current lock, or nil if none is held.
func (s *Store) GetSyncLock(ctx context.Context) (*SyncLock, error) {
	var l SyncLock
	err := s.db.QueryRowContext(ctx, `
		SELECT owner, pid, target_shards, started_at FROM sync_lock WHERE id = 1`).
		Scan(&l.Owner, &l.Pid, &l.TargetShards, &l.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sync lock: %w", err)
	}
	return &l, nil
}

// InsertSyncLock writes the lock row; ErrLockHeld if one already exists.
func (s *Store) InsertSyncLock(ctx context.Context, l SyncLock) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_lock (id, owner, pid, target_shards, started_at)
		VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)`,
		l.Owner, l.Pid, l.TargetShards)
	if err != nil {
		// UNIQUE violation on id means someone else holds it.
		if existing, gerr := s.GetSyncLock(ctx); gerr == nil && existing != nil {
			return ErrLockHeld
		}
		return fmt.Errorf("inserting sync lock: %w", err)
	}
	return nil
}

// DeleteSyncLock removes the lock row owned by owner. Deleting a lock that
// is no longer ours is a no-op, not an error.
func (s *Store) DeleteSyncLock(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_lock WHERE id = 1 AND owner = ?`, owner)
	if err != nil {
		return fmt.Errorf("deleting sync lock: %w", err)
	}
	return nil
}
