// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/hersafe/kagami/internal/models"
)

// ErrAssetNotFound is returned by Lookup when no row exists for the id.
var ErrAssetNotFound = errors.New("asset not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL,
		source_url TEXT,
		content_hash TEXT UNIQUE,
		indexed INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_images_indexed ON images(indexed);
	`
	_, err := db.Exec(schema)
	return err
}

// Register inserts an asset row. A UNIQUE violation on content_hash is mapped
// to the "already registered" outcome: the existing row's id is returned with
// wasNew false.
func (s *SQLiteStore) Register(ctx context.Context, contentHash, filePath, sourceURL string) (int64, bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO images (file_path, source_url, content_hash, indexed)
		 VALUES (?, ?, ?, 0)`,
		filePath, sourceURL, contentHash,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			var id int64
			err := s.db.QueryRowContext(ctx,
				`SELECT id FROM images WHERE content_hash = ?`, contentHash,
			).Scan(&id)
			if err != nil {
				return 0, false, fmt.Errorf("lookup existing asset: %w", err)
			}
			return id, false, nil
		}
		return 0, false, fmt.Errorf("insert asset: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("last insert id: %w", err)
	}
	return id, true, nil
}

// ListUnindexed returns unindexed assets ordered by ascending id.
func (s *SQLiteStore) ListUnindexed(ctx context.Context) ([]models.UnindexedAsset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_path FROM images WHERE indexed = 0 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []models.UnindexedAsset
	for rows.Next() {
		var a models.UnindexedAsset
		if err := rows.Scan(&a.ID, &a.FilePath); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// MarkIndexed sets the indexed flag. Idempotent: flipping an already-indexed
// row affects zero rows and is not an error.
func (s *SQLiteStore) MarkIndexed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE images SET indexed = 1 WHERE id = ?`, id)
	return err
}

// Lookup returns the asset with the given id.
func (s *SQLiteStore) Lookup(ctx context.Context, id int64) (*models.Asset, error) {
	var a models.Asset
	var sourceURL sql.NullString
	var indexed int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_path, source_url, content_hash, indexed, created_at
		 FROM images WHERE id = ?`, id,
	).Scan(&a.ID, &a.FilePath, &sourceURL, &a.ContentHash, &indexed, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrAssetNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	a.SourceURL = sourceURL.String
	a.Indexed = indexed != 0
	return &a, nil
}

// CountAssets returns the total number of registered assets.
func (s *SQLiteStore) CountAssets(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count)
	return count, err
}

// CountIndexed returns the number of assets with the indexed flag set.
func (s *SQLiteStore) CountIndexed(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE indexed = 1`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
