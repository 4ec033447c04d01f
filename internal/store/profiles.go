package store

import (
	"context"
	"fmt"
)

// Profile is the read-time projection of a fid's profile: for each field,
// the value of the latest profile_changes row. The change log itself is
// append-only; nothing here is ever updated in place.
type Profile struct {
	Fid    uint64
	Fields map[string]string
}

// Username, DisplayName, and Bio are the fields search cares about.
func (p Profile) Username() string    { return p.Fields["username"] }
func (p Profile) DisplayName() string { return p.Fields["display_name"] }
func (p Profile) Bio() string         { return p.Fields["bio"] }

// latestPerKey selects, per (fid, field_name), the newest change row.
const latestPerKey = `
	SELECT fid, field_name, field_value FROM (
		SELECT fid, field_name, field_value,
			ROW_NUMBER() OVER (
				PARTITION BY fid, field_name ORDER BY timestamp DESC, message_hash DESC
			) AS rn
		FROM profile_changes
	) WHERE rn = 1`

// ProfileByFid projects a fid's current profile. A fid with no changes
// yields a profile with empty fields, not an error.
func (s *Store) ProfileByFid(ctx context.Context, fid uint64) (Profile, error) {
	p := Profile{Fid: fid, Fields: make(map[string]string)}
	rows, err := s.db.QueryContext(ctx,
		latestPerKey+` AND fid = ?`, fid)
	if err != nil {
		return p, fmt.Errorf("projecting profile %d: %w", fid, err)
	}
	defer rows.Close()

	for rows.Next() {
		var f uint64
		var name, value string
		if err := rows.Scan(&f, &name, &value); err != nil {
			return p, fmt.Errorf("scanning profile field: %w", err)
		}
		p.Fields[name] = value
	}
	return p, rows.Err()
}

// ProfileAt projects a fid's profile as of a timestamp, rebuilt from the
// change log.
func (s *Store) ProfileAt(ctx context.Context, fid uint64, asOf int64) (Profile, error) {
	p := Profile{Fid: fid, Fields: make(map[string]string)}
	rows, err := s.db.QueryContext(ctx, `
		SELECT field_name, field_value FROM (
			SELECT field_name, field_value,
				ROW_NUMBER() OVER (
					PARTITION BY field_name ORDER BY timestamp DESC, message_hash DESC
				) AS rn
			FROM profile_changes
			WHERE fid = ? AND timestamp <= ?
		) WHERE rn = 1`, fid, asOf)
	if err != nil {
		return p, fmt.Errorf("projecting profile %d at %d: %w", fid, asOf, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return p, fmt.Errorf("scanning profile field: %w", err)
		}
		p.Fields[name] = value
	}
	return p, rows.Err()
}

// SearchProfiles matches fids whose current username, display name, bio, or
// location contains the term, newest activity first.
func (s *Store) SearchProfiles(ctx context.Context, term string, limit int) ([]Profile, error) {
	pattern := "%" + escapeLike(term) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT fid FROM (`+latestPerKey+`)
		WHERE field_name IN ('username', 'display_name', 'bio', 'location')
		  AND field_value LIKE ? ESCAPE '\'
		LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching profiles: %w", err)
	}
	defer rows.Close()

	var fids []uint64
	for rows.Next() {
		var fid uint64
		if err := rows.Scan(&fid); err != nil {
			return nil, fmt.Errorf("scanning profile fid: %w", err)
		}
		fids = append(fids, fid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Profile, 0, len(fids))
	for _, fid := range fids {
		p, err := s.ProfileByFid(ctx, fid)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ProfilesByFids projects profiles for the given fids. Fids with no change
// rows at all are left out of the result rather than returned empty.
func (s *Store) ProfilesByFids(ctx context.Context, fids []uint64) (map[uint64]Profile, error) {
	out := make(map[uint64]Profile, len(fids))
	for _, fid := range fids {
		p, err := s.ProfileByFid(ctx, fid)
		if err != nil {
			return nil, err
		}
		if len(p.Fields) == 0 {
			continue
		}
		out[fid] = p
	}
	return out, nil
}
