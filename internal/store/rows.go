package store

// Provenance records where a message was observed in the replicated log.
// Every entity row carries it.
type Provenance struct {
	ShardID        uint32
	BlockHeight    uint64
	TransactionFid uint64
}

// Row is one typed extraction staged into a Batch. Implementations are the
// per-kind row and tombstone types below; the sync dispatcher produces them
// and Store.ApplyBatch consumes them.
type Row interface {
	appendTo(b *Batch)
}

// ProcessedMessage is one entry in the idempotency ledger.
type ProcessedMessage struct {
	MessageHash string
	Fid         uint64
	MessageType string
	Timestamp   int64
	Provenance
}

// CastRow materializes a CastAdd.
type CastRow struct {
	MessageHash string
	Fid         uint64
	Text        string
	ParentHash  string
	RootHash    string
	Embeds      string // JSON array
	Mentions    string // JSON array
	Timestamp   int64
	Provenance
}

// CastTombstone marks an existing cast removed. Matched by the removed
// cast's own hash.
type CastTombstone struct {
	TargetHash  string
	RemovedAt   int64
	RemovedHash string
}

// ReactionRow materializes a ReactionAdd.
type ReactionRow struct {
	MessageHash    string
	Fid            uint64
	ReactionType   int16
	TargetCastHash string
	TargetFid      uint64
	TargetURL      string
	Timestamp      int64
	Provenance
}

// ReactionTombstone marks a reaction removed. Matched by
// (fid, reaction_type, target_cast_hash): the protocol's target identity
// for reactions.
type ReactionTombstone struct {
	Fid            uint64
	ReactionType   int16
	TargetCastHash string
	RemovedAt      int64
	RemovedHash    string
}

// LinkRow materializes a LinkAdd.
type LinkRow struct {
	MessageHash string
	Fid         uint64
	TargetFid   uint64
	LinkType    string
	Timestamp   int64
	Provenance
}

// LinkTombstone marks a link removed. Matched by (fid, link_type, target_fid).
type LinkTombstone struct {
	Fid         uint64
	LinkType    string
	TargetFid   uint64
	RemovedAt   int64
	RemovedHash string
}

// LinkCompactRow declares a fid's complete link set of one type. Live links
// of that type absent from TargetFids are tombstoned; missing targets are
// inserted with a hash derived from the compact message, keeping the write
// idempotent.
type LinkCompactRow struct {
	MessageHash string
	Fid         uint64
	LinkType    string
	TargetFids  []uint64
	Timestamp   int64
	Provenance
}

// VerificationRow materializes a VerificationAdd.
type VerificationRow struct {
	MessageHash      string
	Fid              uint64
	Address          string
	ClaimSignature   string
	BlockHash        string
	VerificationType int16
	ChainID          int32
	Timestamp        int64
	Provenance
}

// VerificationTombstone marks a verification removed. Matched by
// (fid, address).
type VerificationTombstone struct {
	Fid         uint64
	Address     string
	RemovedAt   int64
	RemovedHash string
}

// ProfileChangeRow is one append-only profile field change. The current
// value of (fid, field_name) is the row with the greatest timestamp.
type ProfileChangeRow struct {
	MessageHash string
	Fid         uint64
	FieldName   string
	FieldValue  string
	Timestamp   int64
	Provenance
}

// UsernameProofRow materializes a UsernameProof.
type UsernameProofRow struct {
	MessageHash string
	Fid         uint64
	Name        string
	ProofType   int16
	Owner       string
	Timestamp   int64
	Provenance
}

// FrameActionRow materializes a FrameAction.
type FrameActionRow struct {
	MessageHash    string
	Fid            uint64
	URL            string
	ButtonIndex    int32
	TargetCastHash string
	InputText      string
	Timestamp      int64
	Provenance
}

// OnchainEventRow materializes an OnchainEvent.
type OnchainEventRow struct {
	MessageHash string
	Fid         uint64
	EventType   string
	ChainID     int32
	BlockNumber uint64
	TxHash      string
	LogIndex    int32
	Timestamp   int64
	Provenance
}

// FnameTransferRow materializes an FnameTransfer.
type FnameTransferRow struct {
	MessageHash string
	Name        string
	FromFid     uint64
	ToFid       uint64
	Timestamp   int64
	Provenance
}

func (r CastRow) appendTo(b *Batch)               { b.Casts = append(b.Casts, r) }
func (r CastTombstone) appendTo(b *Batch)         { b.CastTombstones = append(b.CastTombstones, r) }
func (r ReactionRow) appendTo(b *Batch)           { b.Reactions = append(b.Reactions, r) }
func (r ReactionTombstone) appendTo(b *Batch)     { b.ReactionTombstones = append(b.ReactionTombstones, r) }
func (r LinkRow) appendTo(b *Batch)               { b.Links = append(b.Links, r) }
func (r LinkTombstone) appendTo(b *Batch)         { b.LinkTombstones = append(b.LinkTombstones, r) }
func (r LinkCompactRow) appendTo(b *Batch)        { b.LinkCompacts = append(b.LinkCompacts, r) }
func (r VerificationRow) appendTo(b *Batch)       { b.Verifications = append(b.Verifications, r) }
func (r VerificationTombstone) appendTo(b *Batch) {
	b.VerificationTombstones = append(b.VerificationTombstones, r)
}
func (r ProfileChangeRow) appendTo(b *Batch) { b.ProfileChanges = append(b.ProfileChanges, r) }
func (r UsernameProofRow) appendTo(b *Batch) { b.UsernameProofs = append(b.UsernameProofs, r) }
func (r FrameActionRow) appendTo(b *Batch)   { b.FrameActions = append(b.FrameActions, r) }
func (r OnchainEventRow) appendTo(b *Batch)  { b.OnchainEvents = append(b.OnchainEvents, r) }
func (r FnameTransferRow) appendTo(b *Batch) { b.FnameTransfers = append(b.FnameTransfers, r) }
