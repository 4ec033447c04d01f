package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Shard sync states persisted in sync_progress.status.
const (
	ShardStatusIdle    = "idle"
	ShardStatusRunning = "running"
	ShardStatusError   = "error"
)

// ShardProgress is one shard's durable cursor.
type ShardProgress struct {
	ShardID             uint32
	LastProcessedHeight uint64
	Status              string
	ErrorMessage        string
	UpdatedAt           time.Time
}

// ShardStats are per-shard ingestion counters.
type ShardStats struct {
	ShardID       uint32
	TotalMessages uint64
	TotalBlocks   uint64
	LastUpdated   time.Time
}

// Progress returns a shard's cursor, zero-valued if the shard has never
// synced.
func (s *Store) Progress(ctx context.Context, shardID uint32) (ShardProgress, error) {
	p := ShardProgress{ShardID: shardID, Status: ShardStatusIdle}
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT last_processed_height, status, error_message, updated_at
		FROM sync_progress WHERE shard_id = ?`, shardID).
		Scan(&p.LastProcessedHeight, &p.Status, &errMsg, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("reading shard %d progress: %w", shardID, err)
	}
	p.ErrorMessage = errMsg.String
	return p, nil
}

// ListProgress returns cursors for all known shards, ordered by shard id.
func (s *Store) ListProgress(ctx context.Context) ([]ShardProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT shard_id, last_processed_height, status, error_message, updated_at
		FROM sync_progress ORDER BY shard_id`)
	if err != nil {
		return nil, fmt.Errorf("listing progress: %w", err)
	}
	defer rows.Close()

	var out []ShardProgress
	for rows.Next() {
		var p ShardProgress
		var errMsg sql.NullString
		if err := rows.Scan(&p.ShardID, &p.LastProcessedHeight, &p.Status, &errMsg, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning progress: %w", err)
		}
		p.ErrorMessage = errMsg.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// AdvanceHeight persists a shard's cursor. The cursor is monotonic: a
// height at or below the stored one is a no-op, never a regression.
func (s *Store) AdvanceHeight(ctx context.Context, shardID uint32, height uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_progress (shard_id, last_processed_height, status, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(shard_id) DO UPDATE SET
			last_processed_height = MAX(last_processed_height, excluded.last_processed_height),
			updated_at = CURRENT_TIMESTAMP`,
		shardID, height, ShardStatusRunning)
	if err != nil {
		return fmt.Errorf("advancing shard %d to height %d: %w", shardID, height, err)
	}
	return nil
}

// SetShardStatus records a shard's run state and last error.
func (s *Store) SetShardStatus(ctx context.Context, shardID uint32, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_progress (shard_id, status, error_message, updated_at)
		VALUES (?, ?, NULLIF(?, ''), CURRENT_TIMESTAMP)
		ON CONFLICT(shard_id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP`,
		shardID, status, errMsg)
	if err != nil {
		return fmt.Errorf("setting shard %d status: %w", shardID, err)
	}
	return nil
}

// AddStats accumulates per-shard ingestion counters.
func (s *Store) AddStats(ctx context.Context, shardID uint32, messages, blocks uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_stats (shard_id, total_messages, total_blocks, last_updated)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(shard_id) DO UPDATE SET
			total_messages = total_messages + excluded.total_messages,
			total_blocks = total_blocks + excluded.total_blocks,
			last_updated = CURRENT_TIMESTAMP`,
		shardID, messages, blocks)
	if err != nil {
		return fmt.Errorf("updating shard %d stats: %w", shardID, err)
	}
	return nil
}

// Stats returns a shard's counters, zero-valued if none recorded.
func (s *Store) Stats(ctx context.Context, shardID uint32) (ShardStats, error) {
	st := ShardStats{ShardID: shardID}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_messages, total_blocks, last_updated
		FROM sync_stats WHERE shard_id = ?`, shardID).
		Scan(&st.TotalMessages, &st.TotalBlocks, &st.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading shard %d stats: %w", shardID, err)
	}
	return st, nil
}

// IsProcessed reports whether a message hash is already in the ledger.
func (s *Store) IsProcessed(ctx context.Context, messageHash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_messages WHERE message_hash = ?`, messageHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking processed message: %w", err)
	}
	return true, nil
}
