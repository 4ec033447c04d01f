package store

import (
	"context"
	"database/sql"
	"fmt"
)

// applyLinkCompact reconciles a fid's link set of one type against the
// declared complete set. Runs inside the batch transaction.
func (s *Store) applyLinkCompact(ctx context.Context, tx *sql.Tx, c LinkCompactRow, res *BatchResult) error {
	declared := make(map[uint64]bool, len(c.TargetFids))
	for _, t := range c.TargetFids {
		declared[t] = true
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT target_fid FROM links
		WHERE fid = ? AND link_type = ? AND removed_at IS NULL`,
		c.Fid, c.LinkType)
	if err != nil {
		return fmt.Errorf("reading links for compact state: %w", err)
	}
	live := make(map[uint64]bool)
	for rows.Next() {
		var t uint64
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return fmt.Errorf("scanning link target: %w", err)
		}
		live[t] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("reading links for compact state: %w", err)
	}
	rows.Close()

	// Links the compact state no longer declares are tombstoned.
	for t := range live {
		if declared[t] {
			continue
		}
		r, err := tx.ExecContext(ctx, `
			UPDATE links SET removed_at = ?, removed_message_hash = ?
			WHERE fid = ? AND link_type = ? AND target_fid = ? AND removed_at IS NULL`,
			c.Timestamp, c.MessageHash, c.Fid, c.LinkType, t)
		if err != nil {
			return fmt.Errorf("tombstoning undeclared link: %w", err)
		}
		n, _ := r.RowsAffected()
		res.Tombstoned += n
	}

	// Declared targets missing a live row are inserted under a hash derived
	// from the compact message, so replays collide and stay idempotent.
	for _, t := range c.TargetFids {
		if live[t] {
			continue
		}
		r, err := tx.ExecContext(ctx, `
			INSERT INTO links
				(message_hash, fid, target_fid, link_type, timestamp,
				 shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			fmt.Sprintf("%s:%d", c.MessageHash, t), c.Fid, t, c.LinkType,
			c.Timestamp, c.ShardID, c.BlockHeight, c.TransactionFid)
		if err != nil {
			return fmt.Errorf("inserting declared link: %w", err)
		}
		n, _ := r.RowsAffected()
		res.Inserted += n
	}
	return nil
}

// Link is one follow-style edge.
type Link struct {
	MessageHash string
	Fid         uint64
	TargetFid   uint64
	LinkType    string
	Timestamp   int64
	Removed     bool
}

// LinksByFid returns a fid's live links of the given type.
func (s *Store) LinksByFid(ctx context.Context, fid uint64, linkType string, limit int) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_hash, fid, target_fid, link_type, timestamp
		FROM links
		WHERE fid = ? AND link_type = ? AND removed_at IS NULL
		ORDER BY timestamp DESC LIMIT ?`,
		fid, linkType, limit)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.MessageHash, &l.Fid, &l.TargetFid, &l.LinkType, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
