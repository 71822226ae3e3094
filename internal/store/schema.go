package store

import "context"

// Schema definitions: hash, kphash, matrix, color, and the media table,
// plus weed_set and negative_match for tracking known-deleted content and
// dismissed matches. The video index keeps its frame hashes in its own
// video_index table (created by internal/index), not in .vdx files.
const (
	schemaMedia = `CREATE TABLE IF NOT EXISTS media (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type INTEGER NOT NULL,
		path TEXT NOT NULL UNIQUE,
		content_digest TEXT NOT NULL,
		width INTEGER NOT NULL DEFAULT -1,
		height INTEGER NOT NULL DEFAULT -1,
		original_size INTEGER NOT NULL DEFAULT 0,
		compression_ratio REAL NOT NULL DEFAULT 0
	)`

	schemaHash = `CREATE TABLE IF NOT EXISTS hash (
		media_id INTEGER PRIMARY KEY,
		dct_hash INTEGER NOT NULL
	)`

	schemaKPHash = `CREATE TABLE IF NOT EXISTS kphash (
		media_id INTEGER PRIMARY KEY,
		hashes BLOB NOT NULL
	)`

	schemaMatrix = `CREATE TABLE IF NOT EXISTS matrix (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		media_id INTEGER NOT NULL,
		rows INTEGER NOT NULL,
		cols INTEGER NOT NULL,
		type INTEGER NOT NULL,
		stride INTEGER NOT NULL,
		data BLOB NOT NULL
	)`

	schemaColor = `CREATE TABLE IF NOT EXISTS color (
		media_id INTEGER PRIMARY KEY,
		color_desc BLOB NOT NULL
	)`

	schemaWeed = `CREATE TABLE IF NOT EXISTS weed_set (
		content_digest TEXT PRIMARY KEY
	)`

	schemaNegativeMatch = `CREATE TABLE IF NOT EXISTS negative_match (
		media_id_a INTEGER NOT NULL,
		media_id_b INTEGER NOT NULL,
		PRIMARY KEY (media_id_a, media_id_b)
	)`
)

// CreateAllTables idempotently creates every table this repo uses. Each
// index's own create-tables step also calls the subset it owns, so a fresh
// index can be stood up without the full store.
func (d *DB) CreateAllTables(ctx context.Context) error {
	for _, schema := range []string{
		schemaMedia, schemaHash, schemaKPHash, schemaMatrix, schemaColor,
		schemaWeed, schemaNegativeMatch,
	} {
		if err := d.CreateTableIfNotExists(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}
