package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Cast is one materialized cast with engagement counts joined at query
// time.
type Cast struct {
	MessageHash string
	Fid         uint64
	Text        string
	ParentHash  string
	RootHash    string
	Embeds      string
	Mentions    string
	Timestamp   int64
	Removed     bool

	ReplyCount    int64
	ReactionCount int64
}

// CastFilter narrows cast queries. Zero values mean "no constraint".
type CastFilter struct {
	Fid            uint64
	ParentHash     string
	StartTimestamp int64
	EndTimestamp   int64
	IncludeRemoved bool
}

const castColumns = `
	c.message_hash, c.fid, COALESCE(c.text, ''), COALESCE(c.parent_hash, ''),
	COALESCE(c.root_hash, ''), COALESCE(c.embeds, ''), COALESCE(c.mentions, ''),
	c.timestamp, c.removed_at IS NOT NULL,
	(SELECT COUNT(*) FROM casts r WHERE r.parent_hash = c.message_hash AND r.removed_at IS NULL),
	(SELECT COUNT(*) FROM reactions x WHERE x.target_cast_hash = c.message_hash AND x.removed_at IS NULL)`

func scanCast(row interface{ Scan(...any) error }) (Cast, error) {
	var c Cast
	err := row.Scan(&c.MessageHash, &c.Fid, &c.Text, &c.ParentHash, &c.RootHash,
		&c.Embeds, &c.Mentions, &c.Timestamp, &c.Removed,
		&c.ReplyCount, &c.ReactionCount)
	return c, err
}

// CastByHash returns one cast, or nil if unknown.
func (s *Store) CastByHash(ctx context.Context, messageHash string) (*Cast, error) {
	c, err := scanCast(s.db.QueryRowContext(ctx,
		`SELECT `+castColumns+` FROM casts c WHERE c.message_hash = ?`, messageHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cast %s: %w", messageHash, err)
	}
	return &c, nil
}

// CastsByParent returns direct replies to a cast.
func (s *Store) CastsByParent(ctx context.Context, parentHash string, limit int) ([]Cast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+castColumns+` FROM casts c
		WHERE c.parent_hash = ? AND c.removed_at IS NULL
		ORDER BY c.timestamp LIMIT ?`, parentHash, limit)
	if err != nil {
		return nil, fmt.Errorf("querying replies: %w", err)
	}
	return collectCasts(rows)
}

// SearchCastText performs a keyword match over live cast text. A
// multi-word term matches casts containing any of its words, so it still
// finds partial matches when used as a fallback for long queries.
func (s *Store) SearchCastText(ctx context.Context, term string, filter CastFilter, limit int) ([]Cast, error) {
	tokens := searchTokens(term)
	if len(tokens) == 0 {
		return nil, nil
	}
	likes := make([]string, len(tokens))
	args := make([]any, len(tokens))
	for i, tok := range tokens {
		likes[i] = "c.text LIKE ? ESCAPE '\\'"
		args[i] = "%" + escapeLike(tok) + "%"
	}
	conds := []string{"(" + strings.Join(likes, " OR ") + ")"}
	conds, args = filter.apply(conds, args)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+castColumns+` FROM casts c
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY c.timestamp DESC LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("searching casts: %w", err)
	}
	return collectCasts(rows)
}

// ListCasts returns casts matching a filter, newest first.
func (s *Store) ListCasts(ctx context.Context, filter CastFilter, limit int) ([]Cast, error) {
	conds := []string{"1=1"}
	var args []any
	conds, args = filter.apply(conds, args)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+castColumns+` FROM casts c
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY c.timestamp DESC LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("listing casts: %w", err)
	}
	return collectCasts(rows)
}

// CastsByHashes returns the casts for the given hashes, in no particular
// order. Unknown hashes are simply absent.
func (s *Store) CastsByHashes(ctx context.Context, hashes []string) (map[string]Cast, error) {
	out := make(map[string]Cast, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+castColumns+` FROM casts c
		WHERE c.message_hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("reading casts by hash: %w", err)
	}
	casts, err := collectCasts(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range casts {
		out[c.MessageHash] = c
	}
	return out, nil
}

func (f CastFilter) apply(conds []string, args []any) ([]string, []any) {
	if !f.IncludeRemoved {
		conds = append(conds, "c.removed_at IS NULL")
	}
	if f.Fid != 0 {
		conds = append(conds, "c.fid = ?")
		args = append(args, f.Fid)
	}
	if f.ParentHash != "" {
		conds = append(conds, "c.parent_hash = ?")
		args = append(args, f.ParentHash)
	}
	if f.StartTimestamp != 0 {
		conds = append(conds, "c.timestamp >= ?")
		args = append(args, f.StartTimestamp)
	}
	if f.EndTimestamp != 0 {
		conds = append(conds, "c.timestamp <= ?")
		args = append(args, f.EndTimestamp)
	}
	return conds, args
}

func collectCasts(rows *sql.Rows) ([]Cast, error) {
	defer rows.Close()
	var out []Cast
	for rows.Next() {
		c, err := scanCast(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cast: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// searchTokens splits a query into match words, stripping quote characters
// left over from exact-phrase syntax.
func searchTokens(term string) []string {
	var out []string
	for _, f := range strings.Fields(term) {
		f = strings.Trim(f, `"'`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
