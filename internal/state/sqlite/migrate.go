package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	createProducts = `CREATE TABLE IF NOT EXISTS products (
		product_url TEXT PRIMARY KEY,
		product_id TEXT,
		etag_hash TEXT,
		image_sha256 TEXT,
		last_modified TEXT
	)`
	createImages = `CREATE TABLE IF NOT EXISTS images (
		sha256 TEXT PRIMARY KEY,
		direct_url TEXT,
		viewer_url TEXT,
		thumb_url TEXT,
		original_url TEXT,
		updated_at TEXT
	)`
	createImagesIndex = `CREATE INDEX IF NOT EXISTS idx_images_original_url ON images(original_url)`
	// images_unhashed keeps legacy hosted images whose content hash was never
	// recorded. They stay reachable by original URL only.
	createUnhashedImages = `CREATE TABLE IF NOT EXISTS images_unhashed (
		original_url TEXT PRIMARY KEY,
		direct_url TEXT,
		viewer_url TEXT,
		thumb_url TEXT,
		updated_at TEXT
	)`
)

// productColumns lists every products column after the primary key, in the
// order a legacy table would receive them.
var productColumns = []string{"product_id", "etag_hash", "image_sha256", "last_modified"}

// imageColumns is the current images layout; missing legacy columns copy as NULL.
var imageColumns = []string{"sha256", "direct_url", "viewer_url", "thumb_url", "original_url", "updated_at"}

var unhashedColumns = []string{"original_url", "direct_url", "viewer_url", "thumb_url", "updated_at"}

type columnInfo struct {
	name string
	pk   bool
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.migrateProducts(ctx); err != nil {
		return err
	}
	return s.migrateImages(ctx)
}

func (s *Store) migrateProducts(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createProducts); err != nil {
		return fmt.Errorf("create products table: %w", err)
	}
	cols, err := tableColumns(ctx, s.db, "products")
	if err != nil {
		return err
	}
	for _, col := range productColumns {
		if _, ok := cols[col]; ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE products ADD COLUMN %s TEXT", col)); err != nil {
			return fmt.Errorf("add products.%s: %w", col, err)
		}
	}
	return nil
}

func (s *Store) migrateImages(ctx context.Context) error {
	cols, err := tableColumns(ctx, s.db, "images")
	if err != nil {
		return err
	}
	if len(cols) > 0 && isLegacyImages(cols) {
		if err := s.rebuildImages(ctx, cols); err != nil {
			return err
		}
	}
	if _, err := s.db.ExecContext(ctx, createImages); err != nil {
		return fmt.Errorf("create images table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createImagesIndex); err != nil {
		return fmt.Errorf("create images index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createUnhashedImages); err != nil {
		return fmt.Errorf("create images_unhashed table: %w", err)
	}
	return nil
}

// isLegacyImages reports whether the images table predates hash keying or the
// viewer/thumb/updated columns.
func isLegacyImages(cols map[string]columnInfo) bool {
	for _, name := range []string{"viewer_url", "thumb_url", "updated_at"} {
		if _, ok := cols[name]; !ok {
			return true
		}
	}
	hash, ok := cols["sha256"]
	return !ok || !hash.pk
}

// rebuildImages moves a legacy images table aside, recreates it keyed by hash
// and copies every row that carries a hash, all in one transaction. Rows
// without a hash go to images_unhashed.
func (s *Store) rebuildImages(ctx context.Context, legacy map[string]columnInfo) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin images migration: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS images_legacy"); err != nil {
		return fmt.Errorf("drop stale images_legacy: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "ALTER TABLE images RENAME TO images_legacy"); err != nil {
		return fmt.Errorf("rename legacy images: %w", err)
	}
	if _, err = tx.ExecContext(ctx, createImages); err != nil {
		return fmt.Errorf("create images table: %w", err)
	}
	if _, ok := legacy["sha256"]; ok {
		if _, err = tx.ExecContext(ctx, copyLegacyImagesSQL(legacy)); err != nil {
			return fmt.Errorf("copy legacy images: %w", err)
		}
	}
	if _, ok := legacy["original_url"]; ok {
		if _, err = tx.ExecContext(ctx, createUnhashedImages); err != nil {
			return fmt.Errorf("create images_unhashed table: %w", err)
		}
		if _, err = tx.ExecContext(ctx, copyUnhashedImagesSQL(legacy)); err != nil {
			return fmt.Errorf("copy unhashed legacy images: %w", err)
		}
	}
	if _, err = tx.ExecContext(ctx, "DROP TABLE images_legacy"); err != nil {
		return fmt.Errorf("drop images_legacy: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit images migration: %w", err)
	}
	return nil
}

func copyLegacyImagesSQL(legacy map[string]columnInfo) string {
	selects := make([]string, 0, len(imageColumns))
	for _, col := range imageColumns {
		if _, ok := legacy[col]; ok {
			selects = append(selects, col)
		} else {
			selects = append(selects, "NULL")
		}
	}
	// rowid order lets later legacy duplicates of a hash win.
	return fmt.Sprintf(
		"INSERT OR REPLACE INTO images (%s) SELECT %s FROM images_legacy WHERE sha256 IS NOT NULL AND sha256 <> '' ORDER BY rowid",
		strings.Join(imageColumns, ", "), strings.Join(selects, ", "))
}

func copyUnhashedImagesSQL(legacy map[string]columnInfo) string {
	selects := make([]string, 0, len(unhashedColumns))
	for _, col := range unhashedColumns {
		if _, ok := legacy[col]; ok {
			selects = append(selects, col)
		} else {
			selects = append(selects, "NULL")
		}
	}
	where := "original_url IS NOT NULL AND original_url <> ''"
	if _, ok := legacy["sha256"]; ok {
		where += " AND (sha256 IS NULL OR sha256 = '')"
	}
	return fmt.Sprintf(
		"INSERT OR REPLACE INTO images_unhashed (%s) SELECT %s FROM images_legacy WHERE %s ORDER BY rowid",
		strings.Join(unhashedColumns, ", "), strings.Join(selects, ", "), where)
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]columnInfo, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	cols := make(map[string]columnInfo)
	for rows.Next() {
		var (
			cid      int
			name     string
			typ      string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defValue, &pk); err != nil {
			return nil, fmt.Errorf("scan %s column: %w", table, err)
		}
		cols[strings.ToLower(name)] = columnInfo{name: name, pk: pk > 0}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s columns: %w", table, err)
	}
	return cols, nil
}
