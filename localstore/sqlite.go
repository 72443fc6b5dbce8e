package localstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/worldsync/core"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no tables
// 1 - cache_images
// 2 - payload_size column for inspection without decoding
const currentSchemaVersion = 2

// SQLiteBackend stores cache records in a SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and migrates it.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One writer at a time avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('cache_images') WHERE name = 'payload_size'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect cache_images: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE cache_images ADD COLUMN payload_size INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) (Blob, error) {
	var blob Blob
	var compression int
	err := s.db.QueryRowContext(ctx,
		`SELECT compression, payload FROM cache_images WHERE key = ?`, key,
	).Scan(&compression, &blob.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, core.ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("query cache image: %w", err)
	}
	blob.Compression = core.CompressionType(compression)
	return blob, nil
}

func (s *SQLiteBackend) Put(ctx context.Context, key string, blob Blob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_images (key, compression, payload, updated_at, payload_size)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			compression = excluded.compression,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			payload_size = excluded.payload_size`,
		key, int(blob.Compression), blob.Data, time.Now().UnixMilli(), len(blob.Data))
	if err != nil {
		return fmt.Errorf("upsert cache image: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_images WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache image: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
