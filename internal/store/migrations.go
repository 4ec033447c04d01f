package store

import "fmt"

// Schema versions:
// v1: entity tables, processed_messages ledger, sync_progress, sync_lock
// v2: embeddings table for semantic search
// v3: sync_stats counters
const currentSchemaVersion = 3

var schemaMigrations = []string{
	// v1
	`
	CREATE TABLE IF NOT EXISTS sync_progress (
		shard_id INTEGER PRIMARY KEY,
		last_processed_height INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'idle',
		error_message TEXT,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_lock (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		owner TEXT NOT NULL,
		pid INTEGER NOT NULL,
		target_shards TEXT NOT NULL,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS processed_messages (
		message_hash TEXT PRIMARY KEY,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL,
		fid INTEGER NOT NULL,
		message_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processed_shard_height
		ON processed_messages(shard_id, block_height);

	CREATE TABLE IF NOT EXISTS casts (
		message_hash TEXT PRIMARY KEY,
		fid INTEGER NOT NULL,
		text TEXT,
		parent_hash TEXT,
		root_hash TEXT,
		embeds TEXT,
		mentions TEXT,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL,
		removed_at INTEGER,
		removed_message_hash TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_casts_fid ON casts(fid, timestamp);
	CREATE INDEX IF NOT EXISTS idx_casts_parent ON casts(parent_hash);

	CREATE TABLE IF NOT EXISTS reactions (
		message_hash TEXT PRIMARY KEY,
		fid INTEGER NOT NULL,
		reaction_type INTEGER NOT NULL,
		target_cast_hash TEXT,
		target_fid INTEGER,
		target_url TEXT,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL,
		removed_at INTEGER,
		removed_message_hash TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_reactions_target ON reactions(target_cast_hash);
	CREATE INDEX IF NOT EXISTS idx_reactions_fid ON reactions(fid, timestamp);

	CREATE TABLE IF NOT EXISTS links (
		message_hash TEXT PRIMARY KEY,
		fid INTEGER NOT NULL,
		target_fid INTEGER NOT NULL,
		link_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL,
		removed_at INTEGER,
		removed_message_hash TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_links_fid ON links(fid, link_type);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_fid);

	CREATE TABLE IF NOT EXISTS verifications (
		message_hash TEXT PRIMARY KEY,
		fid INTEGER NOT NULL,
		address TEXT NOT NULL,
		claim_signature TEXT,
		block_hash TEXT,
		verification_type INTEGER,
		chain_id INTEGER,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL,
		removed_at INTEGER,
		removed_message_hash TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_verifications_fid ON verifications(fid);

	CREATE TABLE IF NOT EXISTS profile_changes (
		message_hash TEXT PRIMARY KEY,
		fid INTEGER NOT NULL,
		field_name TEXT NOT NULL,
		field_value TEXT,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profile_changes_key
		ON profile_changes(fid, field_name, timestamp DESC);

	CREATE TABLE IF NOT EXISTS username_proofs (
		message_hash TEXT PRIMARY KEY,
		fid INTEGER NOT NULL,
		name TEXT NOT NULL,
		proof_type INTEGER NOT NULL,
		owner TEXT,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_username_proofs_fid ON username_proofs(fid);

	CREATE TABLE IF NOT EXISTS frame_actions (
		message_hash TEXT PRIMARY KEY,
		fid INTEGER NOT NULL,
		url TEXT NOT NULL,
		button_index INTEGER NOT NULL,
		target_cast_hash TEXT,
		input_text TEXT,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS onchain_events (
		message_hash TEXT PRIMARY KEY,
		fid INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		block_number INTEGER NOT NULL,
		tx_hash TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_onchain_fid ON onchain_events(fid);

	CREATE TABLE IF NOT EXISTS fname_transfers (
		message_hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		from_fid INTEGER NOT NULL,
		to_fid INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		shard_id INTEGER NOT NULL,
		block_height INTEGER NOT NULL,
		transaction_fid INTEGER NOT NULL
	);
	`,
	// v2
	`
	CREATE TABLE IF NOT EXISTS embeddings (
		entity_key TEXT PRIMARY KEY,
		entity_kind TEXT NOT NULL,
		vector BLOB,
		dims INTEGER NOT NULL DEFAULT 0,
		source_text TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ok',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_kind ON embeddings(entity_kind, status);
	`,
	// v3
	`
	CREATE TABLE IF NOT EXISTS sync_stats (
		shard_id INTEGER PRIMARY KEY,
		total_messages INTEGER NOT NULL DEFAULT 0,
		total_blocks INTEGER NOT NULL DEFAULT 0,
		last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`,
}

// migrate applies any schema versions newer than the database's.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var version int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for v := version; v < currentSchemaVersion; v++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(schemaMigrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return fmt.Errorf("bumping schema version: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, v+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("bumping schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", v+1, err)
		}
	}
	return nil
}
