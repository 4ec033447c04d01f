// Package replication defines the client interface and wire types for the
// upstream chain-replication service. The service exposes a sharded,
// append-only message log: snapshot-based pagination for historical reads
// and a subscription feed for real-time tailing.
package replication

import "encoding/json"

// MessageType tags one upstream message kind.
type MessageType int32

const (
	MessageTypeCastAdd            MessageType = 1
	MessageTypeCastRemove         MessageType = 2
	MessageTypeReactionAdd        MessageType = 3
	MessageTypeReactionRemove     MessageType = 4
	MessageTypeLinkAdd            MessageType = 5
	MessageTypeLinkRemove         MessageType = 6
	MessageTypeVerificationAdd    MessageType = 7
	MessageTypeVerificationRemove MessageType = 8
	MessageTypeLinkCompactState   MessageType = 9
	MessageTypeUserDataAdd        MessageType = 11
	MessageTypeUsernameProof      MessageType = 12
	MessageTypeFrameAction        MessageType = 13
	MessageTypeOnchainEvent       MessageType = 14
	MessageTypeFnameTransfer      MessageType = 15
)

// String returns the stable name persisted in the processed-message ledger.
func (t MessageType) String() string {
	switch t {
	case MessageTypeCastAdd:
		return "cast_add"
	case MessageTypeCastRemove:
		return "cast_remove"
	case MessageTypeReactionAdd:
		return "reaction_add"
	case MessageTypeReactionRemove:
		return "reaction_remove"
	case MessageTypeLinkAdd:
		return "link_add"
	case MessageTypeLinkRemove:
		return "link_remove"
	case MessageTypeVerificationAdd:
		return "verification_add"
	case MessageTypeVerificationRemove:
		return "verification_remove"
	case MessageTypeLinkCompactState:
		return "link_compact_state"
	case MessageTypeUserDataAdd:
		return "user_data_add"
	case MessageTypeUsernameProof:
		return "username_proof"
	case MessageTypeFrameAction:
		return "frame_action"
	case MessageTypeOnchainEvent:
		return "onchain_event"
	case MessageTypeFnameTransfer:
		return "fname_transfer"
	default:
		return "unknown"
	}
}

// Envelope is one raw message from the replication feed. The body is kept
// opaque here; the sync dispatcher decodes it per type tag so an unknown
// tag or a malformed body never breaks the transport layer.
type Envelope struct {
	// Hash is the content-addressed message id, hex encoded.
	Hash string `json:"hash"`
	// Type is the message kind tag.
	Type MessageType `json:"type"`
	// Fid is the authoring account.
	Fid uint64 `json:"fid"`
	// Timestamp is the protocol timestamp in seconds.
	Timestamp int64 `json:"timestamp"`
	// Height is the block height this message was committed at.
	Height uint64 `json:"height"`
	// TransactionFid is the fid of the enclosing transaction; zero for
	// system transactions.
	TransactionFid uint64 `json:"transaction_fid"`
	// Body is the type-specific payload.
	Body json.RawMessage `json:"body"`
}

// Body shapes, decoded by the dispatcher per type tag.

// CastAddBody is the payload of MessageTypeCastAdd.
type CastAddBody struct {
	Text       string   `json:"text"`
	ParentHash string   `json:"parent_hash,omitempty"`
	RootHash   string   `json:"root_hash,omitempty"`
	Embeds     []string `json:"embeds,omitempty"`
	Mentions   []uint64 `json:"mentions,omitempty"`
}

// CastRemoveBody identifies the cast being tombstoned.
type CastRemoveBody struct {
	TargetHash string `json:"target_hash"`
}

// ReactionBody is shared by ReactionAdd and ReactionRemove. Exactly one of
// TargetCastHash or TargetURL is set.
type ReactionBody struct {
	// ReactionType: 1=like, 2=recast.
	ReactionType   int16  `json:"reaction_type"`
	TargetCastHash string `json:"target_cast_hash,omitempty"`
	TargetFid      uint64 `json:"target_fid,omitempty"`
	TargetURL      string `json:"target_url,omitempty"`
}

// LinkBody is shared by LinkAdd and LinkRemove.
type LinkBody struct {
	LinkType  string `json:"link_type"`
	TargetFid uint64 `json:"target_fid"`
}

// LinkCompactStateBody replaces a fid's full link set of one type.
type LinkCompactStateBody struct {
	LinkType   string   `json:"link_type"`
	TargetFids []uint64 `json:"target_fids"`
}

// VerificationAddBody is the payload of MessageTypeVerificationAdd.
type VerificationAddBody struct {
	Address          string `json:"address"`
	ClaimSignature   string `json:"claim_signature,omitempty"`
	BlockHash        string `json:"block_hash,omitempty"`
	VerificationType int16  `json:"verification_type,omitempty"`
	ChainID          int32  `json:"chain_id,omitempty"`
}

// VerificationRemoveBody identifies the verification being tombstoned.
type VerificationRemoveBody struct {
	Address string `json:"address"`
}

// UserDataBody is the payload of MessageTypeUserDataAdd.
type UserDataBody struct {
	// DataType selects the profile field, per the upstream UserDataType enum.
	DataType int64  `json:"data_type"`
	Value    string `json:"value"`
}

// UsernameProofBody is the payload of MessageTypeUsernameProof.
type UsernameProofBody struct {
	Name string `json:"name"`
	// ProofType: 1=fname, 2=ens.
	ProofType int16  `json:"proof_type"`
	Owner     string `json:"owner,omitempty"`
}

// FrameActionBody is the payload of MessageTypeFrameAction.
type FrameActionBody struct {
	URL            string `json:"url"`
	ButtonIndex    int32  `json:"button_index"`
	TargetCastHash string `json:"target_cast_hash,omitempty"`
	InputText      string `json:"input_text,omitempty"`
}

// OnchainEventBody is the payload of MessageTypeOnchainEvent.
type OnchainEventBody struct {
	EventType   string `json:"event_type"`
	ChainID     int32  `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    int32  `json:"log_index"`
}

// FnameTransferBody is the payload of MessageTypeFnameTransfer.
type FnameTransferBody struct {
	Name    string `json:"name"`
	FromFid uint64 `json:"from_fid"`
	ToFid   uint64 `json:"to_fid"`
}

// Snapshot is a consistent point-in-time view of one shard, used as the
// anchor for historical pagination.
type Snapshot struct {
	ID        string `json:"id"`
	ShardID   uint32 `json:"shard_id"`
	TipHeight uint64 `json:"tip_height"`
}

// Page is one slice of a shard's historical log.
type Page struct {
	Messages []Envelope `json:"messages"`
	// HasMore reports whether more pages exist before the snapshot tip.
	HasMore bool `json:"has_more"`
}
