package replication

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/shards/1/snapshot", r.URL.Path)
		json.NewEncoder(w).Encode(Snapshot{ID: "snap-1", ShardID: 1, TipHeight: 42})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	snap, err := c.GetSnapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "snap-1", snap.ID)
	assert.Equal(t, uint64(42), snap.TipHeight)
}

func TestGetSnapshotMissingIDIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Snapshot{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.GetSnapshot(context.Background(), 1)
	require.ErrorIs(t, err, ErrProtocol)
	assert.False(t, IsTransient(err), "protocol errors must not be retried")
}

func TestGetPagePassesQueryAndSurfacesStatus(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Encode())
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "shard rebalancing")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.GetPage(context.Background(), 2, "snap-9", 100, 50)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.Code)
	assert.Equal(t, "shard rebalancing", statusErr.Body)
	assert.True(t, IsTransient(err))

	q := gotQuery.Load().(string)
	assert.Contains(t, q, "snapshot=snap-9")
	assert.Contains(t, q, "after=100")
	assert.Contains(t, q, "limit=50")
}

func TestPollStreamRecvBuffersPages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/shards/1/subscribe", r.URL.Path)
		after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
		switch calls.Add(1) {
		case 1:
			assert.EqualValues(t, 5, after)
			json.NewEncoder(w).Encode(Page{Messages: []Envelope{
				{Hash: "a", Type: MessageTypeCastAdd, Height: 6},
				{Hash: "b", Type: MessageTypeCastAdd, Height: 7},
			}})
		default:
			assert.EqualValues(t, 7, after, "next poll resumes after the last delivered height")
			json.NewEncoder(w).Encode(Page{Messages: []Envelope{
				{Hash: "c", Type: MessageTypeCastAdd, Height: 8},
			}})
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	stream, err := c.Subscribe(context.Background(), 1, 5)
	require.NoError(t, err)
	defer stream.Close()

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		env, err := stream.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, env.Hash)
	}
	assert.EqualValues(t, 2, calls.Load(), "one poll serves a whole buffered page")
}

func TestPollStreamClosedRecv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Page{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	stream, err := c.Subscribe(context.Background(), 1, 0)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, err = stream.Recv(context.Background())
	assert.True(t, errors.Is(err, io.EOF))
}
