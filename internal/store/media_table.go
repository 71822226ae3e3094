package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dupfind/dupfind/internal/media"
)

// InsertMedia inserts m's base row and assigns its ID. An ID of 0 means
// "not yet persisted"; the real ID is assigned on database insert.
func (d *DB) InsertMedia(ctx context.Context, m *media.Media) error {
	if err := d.CreateTableIfNotExists(ctx, schemaMedia); err != nil {
		return err
	}
	res, err := d.Exec(ctx,
		`INSERT INTO media (type, path, content_digest, width, height, original_size, compression_ratio)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int(m.Type), m.Path, m.ContentDigest, m.Width, m.Height, m.OriginalSize, m.CompressionRatio)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: last insert id: %s", ErrSQLFatal, err)
	}
	m.ID = uint32(id)
	return nil
}

// DeleteMedia removes the base media rows for the given ids. Index-owned
// rows are removed separately by each index's RemoveRecords.
func (d *DB) DeleteMedia(ctx context.Context, ids []uint32) error {
	for _, id := range ids {
		if _, err := d.Exec(ctx, `DELETE FROM media WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

// AllMediaPaths returns every persisted path, used by the scanner to seed
// its `expected` set of paths still present on disk.
func (d *DB) AllMediaPaths(ctx context.Context) (map[string]uint32, error) {
	rows, err := d.QueryRows(ctx, `SELECT id, path FROM media`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]uint32)
	for rows.Next() {
		var id uint32
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("%w: scan: %s", ErrSQLFatal, err)
		}
		out[path] = id
	}
	return out, rows.Err()
}

// MediaByID loads the base row for id, without index-owned descriptor
// data.
func (d *DB) MediaByID(ctx context.Context, id uint32) (*media.Media, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT id, type, path, content_digest, width, height, original_size, compression_ratio
		 FROM media WHERE id = ?`, id)
	return scanMediaRow(row)
}

func scanMediaRow(row *sql.Row) (*media.Media, error) {
	m := &media.Media{}
	var typ int
	if err := row.Scan(&m.ID, &typ, &m.Path, &m.ContentDigest, &m.Width, &m.Height, &m.OriginalSize, &m.CompressionRatio); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: scan media row: %s", ErrSQLFatal, err)
	}
	m.Type = media.Type(typ)
	return m, nil
}

// IsWeed reports whether digest is in the user's weed set: content
// previously marked as known-deleted junk.
func (d *DB) IsWeed(ctx context.Context, digest string) (bool, error) {
	if err := d.CreateTableIfNotExists(ctx, schemaWeed); err != nil {
		return false, err
	}
	row := d.conn.QueryRowContext(ctx, `SELECT 1 FROM weed_set WHERE content_digest = ?`, digest)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: is weed: %s", ErrSQLFatal, err)
	}
	return true, nil
}

// AddWeed marks digest as a known-deleted ("weed") content digest.
func (d *DB) AddWeed(ctx context.Context, digest string) error {
	if err := d.CreateTableIfNotExists(ctx, schemaWeed); err != nil {
		return err
	}
	_, err := d.Exec(ctx, `INSERT OR IGNORE INTO weed_set (content_digest) VALUES (?)`, digest)
	return err
}

// IsNegativeMatch reports whether (a,b) was previously dismissed as "not a
// duplicate" by the user, in either id order.
func (d *DB) IsNegativeMatch(ctx context.Context, a, b uint32) (bool, error) {
	if err := d.CreateTableIfNotExists(ctx, schemaNegativeMatch); err != nil {
		return false, err
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	row := d.conn.QueryRowContext(ctx,
		`SELECT 1 FROM negative_match WHERE media_id_a = ? AND media_id_b = ?`, lo, hi)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: is negative match: %s", ErrSQLFatal, err)
	}
	return true, nil
}

// AddNegativeMatch records that (a,b) is not a duplicate, in the
// deterministic sorted id ordering used everywhere pairwise results are
// cached.
func (d *DB) AddNegativeMatch(ctx context.Context, a, b uint32) error {
	if err := d.CreateTableIfNotExists(ctx, schemaNegativeMatch); err != nil {
		return err
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	_, err := d.Exec(ctx, `INSERT OR IGNORE INTO negative_match (media_id_a, media_id_b) VALUES (?, ?)`, lo, hi)
	return err
}
