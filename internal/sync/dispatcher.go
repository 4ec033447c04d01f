// Package sync implements the shard ingestion engine: per-shard workers
// that page the replicated message log, dispatch each message into typed
// rows, and commit them in idempotent batches, advancing a durable cursor
// only after a successful commit.
package sync

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"castlight/internal/logging"
	"castlight/internal/replication"
	"castlight/internal/store"
)

// Skip conditions. Both are per-message and never abort a batch: the
// caller logs and moves on, keeping ingestion forward-compatible with
// message kinds this build does not know.
var (
	ErrUnsupportedMessageType = errors.New("unsupported message type")
	ErrMalformedMessage       = errors.New("malformed message")
)

// Dispatcher classifies one raw message by its type tag and extracts a
// typed row. Add-variants produce entity rows; Remove-variants produce
// tombstone updates matched by the protocol's target-identity key for that
// kind.
type Dispatcher struct {
	log *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{log: logging.Get(logging.CategorySync)}
}

// Dispatch extracts a typed row from one envelope. A skip is signaled by
// ErrUnsupportedMessageType or ErrMalformedMessage.
func (d *Dispatcher) Dispatch(env replication.Envelope, shardID uint32) (store.Row, error) {
	if env.Hash == "" {
		return nil, fmt.Errorf("%w: missing message hash", ErrMalformedMessage)
	}

	prov := store.Provenance{
		ShardID:        shardID,
		BlockHeight:    env.Height,
		TransactionFid: env.TransactionFid,
	}

	switch env.Type {
	case replication.MessageTypeCastAdd:
		var body replication.CastAddBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		embeds, _ := json.Marshal(body.Embeds)
		mentions, _ := json.Marshal(body.Mentions)
		return store.CastRow{
			MessageHash: env.Hash,
			Fid:         env.Fid,
			Text:        body.Text,
			ParentHash:  body.ParentHash,
			RootHash:    body.RootHash,
			Embeds:      string(embeds),
			Mentions:    string(mentions),
			Timestamp:   env.Timestamp,
			Provenance:  prov,
		}, nil

	case replication.MessageTypeCastRemove:
		var body replication.CastRemoveBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		if body.TargetHash == "" {
			return nil, fmt.Errorf("%w: cast remove without target hash", ErrMalformedMessage)
		}
		return store.CastTombstone{
			TargetHash:  body.TargetHash,
			RemovedAt:   env.Timestamp,
			RemovedHash: env.Hash,
		}, nil

	case replication.MessageTypeReactionAdd:
		body, err := decodeReaction(env)
		if err != nil {
			return nil, err
		}
		return store.ReactionRow{
			MessageHash:    env.Hash,
			Fid:            env.Fid,
			ReactionType:   body.ReactionType,
			TargetCastHash: body.TargetCastHash,
			TargetFid:      body.TargetFid,
			TargetURL:      body.TargetURL,
			Timestamp:      env.Timestamp,
			Provenance:     prov,
		}, nil

	case replication.MessageTypeReactionRemove:
		body, err := decodeReaction(env)
		if err != nil {
			return nil, err
		}
		return store.ReactionTombstone{
			Fid:            env.Fid,
			ReactionType:   body.ReactionType,
			TargetCastHash: body.TargetCastHash,
			RemovedAt:      env.Timestamp,
			RemovedHash:    env.Hash,
		}, nil

	case replication.MessageTypeLinkAdd:
		body, err := decodeLink(env)
		if err != nil {
			return nil, err
		}
		return store.LinkRow{
			MessageHash: env.Hash,
			Fid:         env.Fid,
			TargetFid:   body.TargetFid,
			LinkType:    body.LinkType,
			Timestamp:   env.Timestamp,
			Provenance:  prov,
		}, nil

	case replication.MessageTypeLinkRemove:
		body, err := decodeLink(env)
		if err != nil {
			return nil, err
		}
		return store.LinkTombstone{
			Fid:         env.Fid,
			LinkType:    body.LinkType,
			TargetFid:   body.TargetFid,
			RemovedAt:   env.Timestamp,
			RemovedHash: env.Hash,
		}, nil

	case replication.MessageTypeLinkCompactState:
		var body replication.LinkCompactStateBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		if body.LinkType == "" {
			return nil, fmt.Errorf("%w: link compact state without link type", ErrMalformedMessage)
		}
		return store.LinkCompactRow{
			MessageHash: env.Hash,
			Fid:         env.Fid,
			LinkType:    body.LinkType,
			TargetFids:  body.TargetFids,
			Timestamp:   env.Timestamp,
			Provenance:  prov,
		}, nil

	case replication.MessageTypeVerificationAdd:
		var body replication.VerificationAddBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		if body.Address == "" {
			return nil, fmt.Errorf("%w: verification without address", ErrMalformedMessage)
		}
		return store.VerificationRow{
			MessageHash:      env.Hash,
			Fid:              env.Fid,
			Address:          body.Address,
			ClaimSignature:   body.ClaimSignature,
			BlockHash:        body.BlockHash,
			VerificationType: body.VerificationType,
			ChainID:          body.ChainID,
			Timestamp:        env.Timestamp,
			Provenance:       prov,
		}, nil

	case replication.MessageTypeVerificationRemove:
		var body replication.VerificationRemoveBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		if body.Address == "" {
			return nil, fmt.Errorf("%w: verification remove without address", ErrMalformedMessage)
		}
		return store.VerificationTombstone{
			Fid:         env.Fid,
			Address:     body.Address,
			RemovedAt:   env.Timestamp,
			RemovedHash: env.Hash,
		}, nil

	case replication.MessageTypeUserDataAdd:
		var body replication.UserDataBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		field, ok := userDataFieldNames[body.DataType]
		if !ok {
			return nil, fmt.Errorf("%w: user data type %d", ErrUnsupportedMessageType, body.DataType)
		}
		return store.ProfileChangeRow{
			MessageHash: env.Hash,
			Fid:         env.Fid,
			FieldName:   field,
			FieldValue:  body.Value,
			Timestamp:   env.Timestamp,
			Provenance:  prov,
		}, nil

	case replication.MessageTypeUsernameProof:
		var body replication.UsernameProofBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		if body.Name == "" {
			return nil, fmt.Errorf("%w: username proof without name", ErrMalformedMessage)
		}
		return store.UsernameProofRow{
			MessageHash: env.Hash,
			Fid:         env.Fid,
			Name:        body.Name,
			ProofType:   body.ProofType,
			Owner:       body.Owner,
			Timestamp:   env.Timestamp,
			Provenance:  prov,
		}, nil

	case replication.MessageTypeFrameAction:
		var body replication.FrameActionBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		if body.URL == "" {
			return nil, fmt.Errorf("%w: frame action without url", ErrMalformedMessage)
		}
		return store.FrameActionRow{
			MessageHash:    env.Hash,
			Fid:            env.Fid,
			URL:            body.URL,
			ButtonIndex:    body.ButtonIndex,
			TargetCastHash: body.TargetCastHash,
			InputText:      body.InputText,
			Timestamp:      env.Timestamp,
			Provenance:     prov,
		}, nil

	case replication.MessageTypeOnchainEvent:
		var body replication.OnchainEventBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		if body.EventType == "" || body.TxHash == "" {
			return nil, fmt.Errorf("%w: onchain event missing type or tx hash", ErrMalformedMessage)
		}
		return store.OnchainEventRow{
			MessageHash: env.Hash,
			Fid:         env.Fid,
			EventType:   body.EventType,
			ChainID:     body.ChainID,
			BlockNumber: body.BlockNumber,
			TxHash:      body.TxHash,
			LogIndex:    body.LogIndex,
			Timestamp:   env.Timestamp,
			Provenance:  prov,
		}, nil

	case replication.MessageTypeFnameTransfer:
		var body replication.FnameTransferBody
		if err := decodeBody(env, &body); err != nil {
			return nil, err
		}
		if body.Name == "" {
			return nil, fmt.Errorf("%w: fname transfer without name", ErrMalformedMessage)
		}
		return store.FnameTransferRow{
			MessageHash: env.Hash,
			Name:        body.Name,
			FromFid:     body.FromFid,
			ToFid:       body.ToFid,
			Timestamp:   env.Timestamp,
			Provenance:  prov,
		}, nil

	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedMessageType, env.Type)
	}
}

func decodeBody(env replication.Envelope, out any) error {
	if len(env.Body) == 0 {
		return fmt.Errorf("%w: %s without body", ErrMalformedMessage, env.Type)
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("%w: decoding %s body: %v", ErrMalformedMessage, env.Type, err)
	}
	return nil
}

func decodeReaction(env replication.Envelope) (replication.ReactionBody, error) {
	var body replication.ReactionBody
	if err := decodeBody(env, &body); err != nil {
		return body, err
	}
	if body.TargetCastHash == "" && body.TargetURL == "" {
		return body, fmt.Errorf("%w: reaction without target", ErrMalformedMessage)
	}
	return body, nil
}

func decodeLink(env replication.Envelope) (replication.LinkBody, error) {
	var body replication.LinkBody
	if err := decodeBody(env, &body); err != nil {
		return body, err
	}
	if body.LinkType == "" {
		return body, fmt.Errorf("%w: link without link type", ErrMalformedMessage)
	}
	if body.TargetFid == 0 {
		return body, fmt.Errorf("%w: link without target fid", ErrMalformedMessage)
	}
	return body, nil
}

// userDataFieldNames maps the upstream UserDataType enum to profile field
// names. Data type 4 is unassigned upstream.
var userDataFieldNames = map[int64]string{
	1:  "pfp_url",
	2:  "display_name",
	3:  "bio",
	5:  "website_url",
	6:  "username",
	7:  "location",
	8:  "twitter_username",
	9:  "github_username",
	10: "banner_url",
	11: "primary_address_ethereum",
	12: "primary_address_solana",
	13: "profile_token",
}
