package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Batch is a set of staged rows applied in one transaction. Inserts are
// insert-if-absent keyed on message_hash, so re-applying a batch (crash
// replay, overlapping runs) is harmless: the conflicting rows are skipped
// and everything else commits.
type Batch struct {
	Processed []ProcessedMessage

	Casts                  []CastRow
	CastTombstones         []CastTombstone
	Reactions              []ReactionRow
	ReactionTombstones     []ReactionTombstone
	Links                  []LinkRow
	LinkTombstones         []LinkTombstone
	LinkCompacts           []LinkCompactRow
	Verifications          []VerificationRow
	VerificationTombstones []VerificationTombstone
	ProfileChanges         []ProfileChangeRow
	UsernameProofs         []UsernameProofRow
	FrameActions           []FrameActionRow
	OnchainEvents          []OnchainEventRow
	FnameTransfers         []FnameTransferRow
}

// Add stages a typed row.
func (b *Batch) Add(r Row) { r.appendTo(b) }

// Len counts staged entity rows, tombstones included.
func (b *Batch) Len() int {
	return len(b.Casts) + len(b.CastTombstones) +
		len(b.Reactions) + len(b.ReactionTombstones) +
		len(b.Links) + len(b.LinkTombstones) + len(b.LinkCompacts) +
		len(b.Verifications) + len(b.VerificationTombstones) +
		len(b.ProfileChanges) + len(b.UsernameProofs) +
		len(b.FrameActions) + len(b.OnchainEvents) + len(b.FnameTransfers)
}

// BatchResult reports what one ApplyBatch committed.
type BatchResult struct {
	Inserted   int64
	Duplicates int64
	Tombstoned int64
}

// ApplyBatch commits all staged rows atomically. A message_hash collision
// on any insert is not an error: the row was already durably recorded and
// is skipped. On error nothing is committed and the batch can be retried
// whole.
func (s *Store) ApplyBatch(ctx context.Context, b *Batch) (BatchResult, error) {
	var res BatchResult

	tx, err := s.begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	ins := func(query string, args ...any) error {
		r, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, _ := r.RowsAffected()
		res.Inserted += n
		if n == 0 {
			res.Duplicates++
		}
		return nil
	}
	tomb := func(query string, args ...any) error {
		r, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, _ := r.RowsAffected()
		res.Tombstoned += n
		return nil
	}

	for _, m := range b.Processed {
		if err := ins(`
			INSERT INTO processed_messages
				(message_hash, shard_id, block_height, transaction_fid, fid, message_type, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			m.MessageHash, m.ShardID, m.BlockHeight, m.TransactionFid,
			m.Fid, m.MessageType, m.Timestamp); err != nil {
			return BatchResult{}, fmt.Errorf("recording processed message: %w", err)
		}
	}

	for _, r := range b.Casts {
		if err := ins(`
			INSERT INTO casts
				(message_hash, fid, text, parent_hash, root_hash, embeds, mentions,
				 timestamp, shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Fid, r.Text, r.ParentHash, r.RootHash, r.Embeds,
			r.Mentions, r.Timestamp, r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting cast: %w", err)
		}
	}
	for _, t := range b.CastTombstones {
		if err := tomb(`
			UPDATE casts SET removed_at = ?, removed_message_hash = ?
			WHERE message_hash = ? AND removed_at IS NULL`,
			t.RemovedAt, t.RemovedHash, t.TargetHash); err != nil {
			return BatchResult{}, fmt.Errorf("tombstoning cast: %w", err)
		}
	}

	for _, r := range b.Reactions {
		if err := ins(`
			INSERT INTO reactions
				(message_hash, fid, reaction_type, target_cast_hash, target_fid, target_url,
				 timestamp, shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, 0), NULLIF(?, ''), ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Fid, r.ReactionType, r.TargetCastHash, r.TargetFid,
			r.TargetURL, r.Timestamp, r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting reaction: %w", err)
		}
	}
	for _, t := range b.ReactionTombstones {
		if err := tomb(`
			UPDATE reactions SET removed_at = ?, removed_message_hash = ?
			WHERE fid = ? AND reaction_type = ? AND target_cast_hash = ?
			  AND removed_at IS NULL`,
			t.RemovedAt, t.RemovedHash, t.Fid, t.ReactionType, t.TargetCastHash); err != nil {
			return BatchResult{}, fmt.Errorf("tombstoning reaction: %w", err)
		}
	}

	for _, r := range b.Links {
		if err := ins(`
			INSERT INTO links
				(message_hash, fid, target_fid, link_type, timestamp,
				 shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Fid, r.TargetFid, r.LinkType, r.Timestamp,
			r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting link: %w", err)
		}
	}
	for _, t := range b.LinkTombstones {
		if err := tomb(`
			UPDATE links SET removed_at = ?, removed_message_hash = ?
			WHERE fid = ? AND link_type = ? AND target_fid = ?
			  AND removed_at IS NULL`,
			t.RemovedAt, t.RemovedHash, t.Fid, t.LinkType, t.TargetFid); err != nil {
			return BatchResult{}, fmt.Errorf("tombstoning link: %w", err)
		}
	}
	for _, c := range b.LinkCompacts {
		if err := s.applyLinkCompact(ctx, tx, c, &res); err != nil {
			return BatchResult{}, err
		}
	}

	for _, r := range b.Verifications {
		if err := ins(`
			INSERT INTO verifications
				(message_hash, fid, address, claim_signature, block_hash,
				 verification_type, chain_id, timestamp, shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Fid, r.Address, r.ClaimSignature, r.BlockHash,
			r.VerificationType, r.ChainID, r.Timestamp,
			r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting verification: %w", err)
		}
	}
	for _, t := range b.VerificationTombstones {
		if err := tomb(`
			UPDATE verifications SET removed_at = ?, removed_message_hash = ?
			WHERE fid = ? AND address = ? AND removed_at IS NULL`,
			t.RemovedAt, t.RemovedHash, t.Fid, t.Address); err != nil {
			return BatchResult{}, fmt.Errorf("tombstoning verification: %w", err)
		}
	}

	for _, r := range b.ProfileChanges {
		if err := ins(`
			INSERT INTO profile_changes
				(message_hash, fid, field_name, field_value, timestamp,
				 shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Fid, r.FieldName, r.FieldValue, r.Timestamp,
			r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting profile change: %w", err)
		}
	}

	for _, r := range b.UsernameProofs {
		if err := ins(`
			INSERT INTO username_proofs
				(message_hash, fid, name, proof_type, owner, timestamp,
				 shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Fid, r.Name, r.ProofType, r.Owner, r.Timestamp,
			r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting username proof: %w", err)
		}
	}

	for _, r := range b.FrameActions {
		if err := ins(`
			INSERT INTO frame_actions
				(message_hash, fid, url, button_index, target_cast_hash, input_text,
				 timestamp, shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Fid, r.URL, r.ButtonIndex, r.TargetCastHash,
			r.InputText, r.Timestamp, r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting frame action: %w", err)
		}
	}

	for _, r := range b.OnchainEvents {
		if err := ins(`
			INSERT INTO onchain_events
				(message_hash, fid, event_type, chain_id, block_number, tx_hash, log_index,
				 timestamp, shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Fid, r.EventType, r.ChainID, r.BlockNumber, r.TxHash,
			r.LogIndex, r.Timestamp, r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting onchain event: %w", err)
		}
	}

	for _, r := range b.FnameTransfers {
		if err := ins(`
			INSERT INTO fname_transfers
				(message_hash, name, from_fid, to_fid, timestamp,
				 shard_id, block_height, transaction_fid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_hash) DO NOTHING`,
			r.MessageHash, r.Name, r.FromFid, r.ToFid, r.Timestamp,
			r.ShardID, r.BlockHeight, r.TransactionFid); err != nil {
			return BatchResult{}, fmt.Errorf("inserting fname transfer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("committing batch: %w", err)
	}

	s.log.Debug("batch committed",
		zap.Int64("inserted", res.Inserted),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int64("tombstoned", res.Tombstoned))
	return res, nil
}
