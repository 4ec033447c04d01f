package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"castlight/internal/logging"
)

// HTTPClient talks to the replication service over its HTTP+JSON API.
// Subscribe is implemented as a long-poll over the same paged endpoint, so
// one transport covers both historical and real-time reads.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger

	// pollWait is how long the server may hold a subscribe poll open.
	pollWait time.Duration
}

// NewHTTPClient creates a client for the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		log:      logging.Get(logging.CategoryReplication),
		pollWait: 30 * time.Second,
	}
}

// GetSnapshot returns the latest snapshot for a shard.
func (c *HTTPClient) GetSnapshot(ctx context.Context, shardID uint32) (Snapshot, error) {
	var snap Snapshot
	path := fmt.Sprintf("/v1/shards/%d/snapshot", shardID)
	if err := c.getJSON(ctx, path, nil, &snap); err != nil {
		return Snapshot{}, err
	}
	if snap.ID == "" {
		return Snapshot{}, fmt.Errorf("%w: snapshot response missing id", ErrProtocol)
	}
	return snap, nil
}

// GetPage returns one page of messages above afterHeight.
func (c *HTTPClient) GetPage(ctx context.Context, shardID uint32, snapshotID string, afterHeight uint64, pageSize int) (Page, error) {
	var page Page
	path := fmt.Sprintf("/v1/shards/%d/messages", shardID)
	q := url.Values{
		"snapshot": {snapshotID},
		"after":    {strconv.FormatUint(afterHeight, 10)},
		"limit":    {strconv.Itoa(pageSize)},
	}
	if err := c.getJSON(ctx, path, q, &page); err != nil {
		return Page{}, err
	}
	return page, nil
}

// Subscribe opens a long-poll stream for a shard.
func (c *HTTPClient) Subscribe(ctx context.Context, shardID uint32, fromHeight uint64) (Stream, error) {
	c.log.Info("opening subscription",
		zap.Uint32("shard", shardID),
		zap.Uint64("from_height", fromHeight))
	return &pollStream{
		client:  c,
		shardID: shardID,
		height:  fromHeight,
	}, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("replication request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrProtocol, path, err)
	}
	return nil
}

// pollStream adapts the paged endpoint into a Stream by long-polling with a
// server-side wait, buffering each returned page.
type pollStream struct {
	client  *HTTPClient
	shardID uint32
	height  uint64
	buf     []Envelope
	closed  bool
}

func (s *pollStream) Recv(ctx context.Context) (Envelope, error) {
	for len(s.buf) == 0 {
		if s.closed {
			return Envelope{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Envelope{}, err
		}

		var page Page
		path := fmt.Sprintf("/v1/shards/%d/subscribe", s.shardID)
		q := url.Values{
			"after": {strconv.FormatUint(s.height, 10)},
			"wait":  {s.client.pollWait.String()},
		}
		if err := s.client.getJSON(ctx, path, q, &page); err != nil {
			return Envelope{}, err
		}
		s.buf = page.Messages
	}

	msg := s.buf[0]
	s.buf = s.buf[1:]
	if msg.Height > s.height {
		s.height = msg.Height
	}
	return msg, nil
}

func (s *pollStream) Close() error {
	s.closed = true
	return nil
}
