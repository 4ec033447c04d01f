package sync

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castlight/internal/replication"
	"castlight/internal/store"
)

func env(t *testing.T, hash string, typ replication.MessageType, fid uint64, height uint64, body any) replication.Envelope {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return replication.Envelope{
		Hash:      hash,
		Type:      typ,
		Fid:       fid,
		Timestamp: 1700000000,
		Height:    height,
		Body:      raw,
	}
}

func TestDispatchCastAdd(t *testing.T) {
	d := NewDispatcher()
	row, err := d.Dispatch(env(t, "aa11", replication.MessageTypeCastAdd, 42, 100, replication.CastAddBody{
		Text:       "gm farcaster",
		ParentHash: "bb22",
		Embeds:     []string{"https://example.com"},
		Mentions:   []uint64{7},
	}), 1)
	require.NoError(t, err)

	cast, ok := row.(store.CastRow)
	require.True(t, ok, "expected CastRow, got %T", row)
	assert.Equal(t, "aa11", cast.MessageHash)
	assert.Equal(t, uint64(42), cast.Fid)
	assert.Equal(t, "gm farcaster", cast.Text)
	assert.Equal(t, "bb22", cast.ParentHash)
	assert.Equal(t, `["https://example.com"]`, cast.Embeds)
	assert.Equal(t, `[7]`, cast.Mentions)
	assert.Equal(t, uint32(1), cast.ShardID)
	assert.Equal(t, uint64(100), cast.BlockHeight)
}

func TestDispatchRemovesProduceTombstones(t *testing.T) {
	d := NewDispatcher()

	row, err := d.Dispatch(env(t, "r1", replication.MessageTypeCastRemove, 42, 101,
		replication.CastRemoveBody{TargetHash: "aa11"}), 1)
	require.NoError(t, err)
	ct, ok := row.(store.CastTombstone)
	require.True(t, ok)
	assert.Equal(t, "aa11", ct.TargetHash)
	assert.Equal(t, "r1", ct.RemovedHash)

	row, err = d.Dispatch(env(t, "r2", replication.MessageTypeReactionRemove, 42, 102,
		replication.ReactionBody{ReactionType: 1, TargetCastHash: "aa11"}), 1)
	require.NoError(t, err)
	rt, ok := row.(store.ReactionTombstone)
	require.True(t, ok)
	assert.Equal(t, uint64(42), rt.Fid)
	assert.Equal(t, int16(1), rt.ReactionType)
	assert.Equal(t, "aa11", rt.TargetCastHash)

	row, err = d.Dispatch(env(t, "r3", replication.MessageTypeLinkRemove, 42, 103,
		replication.LinkBody{LinkType: "follow", TargetFid: 7}), 1)
	require.NoError(t, err)
	lt, ok := row.(store.LinkTombstone)
	require.True(t, ok)
	assert.Equal(t, "follow", lt.LinkType)
	assert.Equal(t, uint64(7), lt.TargetFid)

	row, err = d.Dispatch(env(t, "r4", replication.MessageTypeVerificationRemove, 42, 104,
		replication.VerificationRemoveBody{Address: "0xabc"}), 1)
	require.NoError(t, err)
	vt, ok := row.(store.VerificationTombstone)
	require.True(t, ok)
	assert.Equal(t, "0xabc", vt.Address)
}

func TestDispatchEveryAddKind(t *testing.T) {
	d := NewDispatcher()
	cases := []struct {
		typ  replication.MessageType
		body any
		want store.Row
	}{
		{replication.MessageTypeReactionAdd, replication.ReactionBody{ReactionType: 2, TargetCastHash: "aa"}, store.ReactionRow{}},
		{replication.MessageTypeLinkAdd, replication.LinkBody{LinkType: "follow", TargetFid: 9}, store.LinkRow{}},
		{replication.MessageTypeLinkCompactState, replication.LinkCompactStateBody{LinkType: "follow", TargetFids: []uint64{1, 2}}, store.LinkCompactRow{}},
		{replication.MessageTypeVerificationAdd, replication.VerificationAddBody{Address: "0xabc"}, store.VerificationRow{}},
		{replication.MessageTypeUserDataAdd, replication.UserDataBody{DataType: 6, Value: "alice"}, store.ProfileChangeRow{}},
		{replication.MessageTypeUsernameProof, replication.UsernameProofBody{Name: "alice", ProofType: 1}, store.UsernameProofRow{}},
		{replication.MessageTypeFrameAction, replication.FrameActionBody{URL: "https://frame.example", ButtonIndex: 1}, store.FrameActionRow{}},
		{replication.MessageTypeOnchainEvent, replication.OnchainEventBody{EventType: "id_register", TxHash: "0xdef"}, store.OnchainEventRow{}},
		{replication.MessageTypeFnameTransfer, replication.FnameTransferBody{Name: "alice", ToFid: 42}, store.FnameTransferRow{}},
	}
	for _, tc := range cases {
		t.Run(tc.typ.String(), func(t *testing.T) {
			row, err := d.Dispatch(env(t, "h-"+tc.typ.String(), tc.typ, 42, 10, tc.body), 1)
			require.NoError(t, err)
			assert.IsType(t, tc.want, row)
		})
	}
}

func TestDispatchUserDataFieldMapping(t *testing.T) {
	d := NewDispatcher()
	row, err := d.Dispatch(env(t, "u1", replication.MessageTypeUserDataAdd, 42, 10,
		replication.UserDataBody{DataType: 3, Value: "building things"}), 1)
	require.NoError(t, err)
	pc := row.(store.ProfileChangeRow)
	assert.Equal(t, "bio", pc.FieldName)
	assert.Equal(t, "building things", pc.FieldValue)

	// data type 4 is unassigned upstream
	_, err = d.Dispatch(env(t, "u2", replication.MessageTypeUserDataAdd, 42, 10,
		replication.UserDataBody{DataType: 4, Value: "x"}), 1)
	assert.ErrorIs(t, err, ErrUnsupportedMessageType)
}

func TestDispatchMalformed(t *testing.T) {
	d := NewDispatcher()

	// missing hash
	e := env(t, "", replication.MessageTypeCastAdd, 42, 10, replication.CastAddBody{Text: "x"})
	_, err := d.Dispatch(e, 1)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	// reaction without any target
	_, err = d.Dispatch(env(t, "m1", replication.MessageTypeReactionAdd, 42, 10,
		replication.ReactionBody{ReactionType: 1}), 1)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	// undecodable body
	bad := replication.Envelope{Hash: "m2", Type: replication.MessageTypeCastAdd, Body: json.RawMessage(`{`)}
	_, err = d.Dispatch(bad, 1)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	// empty body
	none := replication.Envelope{Hash: "m3", Type: replication.MessageTypeCastAdd}
	_, err = d.Dispatch(none, 1)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	// link without a link type
	_, err = d.Dispatch(env(t, "m4", replication.MessageTypeLinkAdd, 42, 10,
		replication.LinkBody{TargetFid: 7}), 1)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	// link without a target fid
	_, err = d.Dispatch(env(t, "m5", replication.MessageTypeLinkRemove, 42, 10,
		replication.LinkBody{LinkType: "follow"}), 1)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDispatchUnknownTag(t *testing.T) {
	d := NewDispatcher()
	_, err := d.Dispatch(replication.Envelope{Hash: "x", Type: 99, Body: json.RawMessage(`{}`)}, 1)
	if !errors.Is(err, ErrUnsupportedMessageType) {
		t.Fatalf("want ErrUnsupportedMessageType, got %v", err)
	}
}
