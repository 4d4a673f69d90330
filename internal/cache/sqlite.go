package cache

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/s3sync/internal/db"
	"github.com/openmined/s3sync/internal/meta"
)

const schema = `
CREATE TABLE IF NOT EXISTS key_metadata (
    key TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    last_modified REAL,
    etag TEXT NOT NULL
);
`

type dbEntry struct {
	Key          string          `db:"key"`
	Size         int64           `db:"size"`
	LastModified sql.NullFloat64 `db:"last_modified"`
	ETag         string          `db:"etag"`
}

// SqliteCache keeps the map in a sqlite table. It suits trees with millions
// of keys where rewriting a JSON document on every flush gets expensive.
type SqliteCache struct {
	db   *sqlx.DB
	path string
}

func NewSqliteCache(path string) (*SqliteCache, error) {
	handle, err := db.Open(db.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	return newSqliteCache(handle, path)
}

func newSqliteCache(handle *sqlx.DB, path string) (*SqliteCache, error) {
	if _, err := handle.Exec(schema); err != nil {
		handle.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return &SqliteCache{db: handle, path: path}, nil
}

func (c *SqliteCache) Read() meta.KeyMap {
	var rows []dbEntry
	if err := c.db.Select(&rows, "SELECT key, size, last_modified, etag FROM key_metadata"); err != nil {
		slog.Warn("cache read", "path", c.path, "error", err)
		return meta.KeyMap{}
	}

	data := make(meta.KeyMap, len(rows))
	for _, row := range rows {
		m := meta.Metadata{Size: uint64(row.Size), ETag: row.ETag}
		if row.LastModified.Valid {
			v := row.LastModified.Float64
			m.LastModified = &v
		}
		data[row.Key] = m
	}
	return data
}

func (c *SqliteCache) Write(data meta.KeyMap) error {
	tx, err := c.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin cache write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM key_metadata"); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	stmt, err := tx.PrepareNamed(`INSERT INTO key_metadata (key, size, last_modified, etag)
	          VALUES (:key, :size, :last_modified, :etag)`)
	if err != nil {
		return fmt.Errorf("prepare cache insert: %w", err)
	}
	defer stmt.Close()

	for key, m := range data {
		row := dbEntry{Key: key, Size: int64(m.Size), ETag: m.ETag}
		if m.LastModified != nil {
			row.LastModified = sql.NullFloat64{Float64: *m.LastModified, Valid: true}
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache: %w", err)
	}
	return nil
}

func (c *SqliteCache) Close() error {
	return c.db.Close()
}
