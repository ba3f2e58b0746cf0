// Package sqlite persists product fingerprints and hosted images in a local
// SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/catalog-sync/internal/catalog"
)

// timeLayout sorts lexicographically, so ORDER BY updated_at is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements catalog.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ catalog.Store = (*Store)(nil)

// Open creates the parent directory, opens the database and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := newStore(db)
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// GetProduct returns the stored state for a product URL.
func (s *Store) GetProduct(ctx context.Context, productURL string) (catalog.ProductState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT product_url, product_id, etag_hash, image_sha256, last_modified
		 FROM products WHERE product_url = ?`, productURL)

	var (
		state                            catalog.ProductState
		productID, etag, image, modified sql.NullString
	)
	if err := row.Scan(&state.ProductURL, &productID, &etag, &image, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ProductState{}, false, nil
		}
		return catalog.ProductState{}, false, fmt.Errorf("get product %s: %w", productURL, err)
	}
	state.ProductID = productID.String
	state.Fingerprint = etag.String
	state.ImageHash = image.String
	state.LastModified = parseTime(modified.String)
	return state, true, nil
}

// UpsertProduct inserts or replaces the state row for state.ProductURL.
func (s *Store) UpsertProduct(ctx context.Context, state catalog.ProductState) error {
	if state.ProductURL == "" {
		return fmt.Errorf("product url is required")
	}
	modified := state.LastModified
	if modified.IsZero() {
		modified = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (product_url, product_id, etag_hash, image_sha256, last_modified)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(product_url) DO UPDATE SET
		   product_id = excluded.product_id,
		   etag_hash = excluded.etag_hash,
		   image_sha256 = excluded.image_sha256,
		   last_modified = excluded.last_modified`,
		state.ProductURL, nullable(state.ProductID), nullable(state.Fingerprint),
		nullable(state.ImageHash), formatTime(modified))
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", state.ProductURL, err)
	}
	return nil
}

// GetImage looks an image up by content hash.
func (s *Store) GetImage(ctx context.Context, contentHash string) (catalog.ImageRecord, bool, error) {
	if contentHash == "" {
		return catalog.ImageRecord{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT sha256, direct_url, viewer_url, thumb_url, original_url, updated_at
		 FROM images WHERE sha256 = ?`, contentHash)
	return scanImage(row, contentHash)
}

// GetImageByOriginalURL returns the most recently updated image that was
// fetched from originalURL. Legacy images without a content hash are
// consulted last and come back with an empty ContentHash.
func (s *Store) GetImageByOriginalURL(ctx context.Context, originalURL string) (catalog.ImageRecord, bool, error) {
	if originalURL == "" {
		return catalog.ImageRecord{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT sha256, direct_url, viewer_url, thumb_url, original_url, updated_at
		 FROM images WHERE original_url = ?
		 ORDER BY updated_at DESC, rowid DESC LIMIT 1`, originalURL)
	rec, ok, err := scanImage(row, originalURL)
	if err != nil || ok {
		return rec, ok, err
	}
	row = s.db.QueryRowContext(ctx,
		`SELECT '', direct_url, viewer_url, thumb_url, original_url, updated_at
		 FROM images_unhashed WHERE original_url = ?`, originalURL)
	return scanImage(row, originalURL)
}

// SaveImage upserts on content hash and overwrites the hosted URLs and the
// original-URL association.
func (s *Store) SaveImage(ctx context.Context, record catalog.ImageRecord) error {
	if record.ContentHash == "" {
		return fmt.Errorf("image content hash is required")
	}
	updated := record.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (sha256, direct_url, viewer_url, thumb_url, original_url, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sha256) DO UPDATE SET
		   direct_url = excluded.direct_url,
		   viewer_url = excluded.viewer_url,
		   thumb_url = excluded.thumb_url,
		   original_url = excluded.original_url,
		   updated_at = excluded.updated_at`,
		record.ContentHash, nullable(record.DirectURL), nullable(record.ViewerURL),
		nullable(record.ThumbURL), nullable(record.OriginalURL), formatTime(updated))
	if err != nil {
		return fmt.Errorf("save image %s: %w", record.ContentHash, err)
	}
	return nil
}

func scanImage(row *sql.Row, key string) (catalog.ImageRecord, bool, error) {
	var (
		rec                                      catalog.ImageRecord
		direct, viewer, thumb, original, updated sql.NullString
	)
	if err := row.Scan(&rec.ContentHash, &direct, &viewer, &thumb, &original, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ImageRecord{}, false, nil
		}
		return catalog.ImageRecord{}, false, fmt.Errorf("get image %s: %w", key, err)
	}
	rec.DirectURL = direct.String
	rec.ViewerURL = viewer.String
	rec.ThumbURL = thumb.String
	rec.OriginalURL = original.String
	rec.UpdatedAt = parseTime(updated.String)
	return rec, true, nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
