// Package postgres provides a Postgres-backed product and image state store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements catalog.Store on Postgres.
type Store struct {
	pool pool
	psql sq.StatementBuilderType
	now  func() time.Time
}

var _ catalog.Store = (*Store)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		product_url TEXT PRIMARY KEY,
		product_id TEXT NOT NULL DEFAULT '',
		etag_hash TEXT NOT NULL DEFAULT '',
		image_sha256 TEXT NOT NULL DEFAULT '',
		last_modified TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE products ADD COLUMN IF NOT EXISTS product_id TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE products ADD COLUMN IF NOT EXISTS etag_hash TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE products ADD COLUMN IF NOT EXISTS image_sha256 TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE products ADD COLUMN IF NOT EXISTS last_modified TIMESTAMPTZ NOT NULL DEFAULT now()`,
	`CREATE TABLE IF NOT EXISTS images (
		sha256 TEXT PRIMARY KEY,
		direct_url TEXT NOT NULL DEFAULT '',
		viewer_url TEXT NOT NULL DEFAULT '',
		thumb_url TEXT NOT NULL DEFAULT '',
		original_url TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE images ADD COLUMN IF NOT EXISTS viewer_url TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE images ADD COLUMN IF NOT EXISTS thumb_url TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE images ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT now()`,
	`CREATE INDEX IF NOT EXISTS idx_images_original_url ON images (original_url)`,
}

// New connects a pool using cfg and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(ctx, p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing)
// and applies the schema.
func NewWithPool(ctx context.Context, p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	s := &Store{
		pool: p,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// GetProduct returns the stored state for a product URL.
func (s *Store) GetProduct(ctx context.Context, productURL string) (catalog.ProductState, bool, error) {
	query, args, err := s.psql.
		Select("product_url", "product_id", "etag_hash", "image_sha256", "last_modified").
		From("products").
		Where(sq.Eq{"product_url": productURL}).
		ToSql()
	if err != nil {
		return catalog.ProductState{}, false, fmt.Errorf("build product query: %w", err)
	}
	var state catalog.ProductState
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&state.ProductURL, &state.ProductID, &state.Fingerprint, &state.ImageHash, &state.LastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ProductState{}, false, nil
	}
	if err != nil {
		return catalog.ProductState{}, false, fmt.Errorf("get product %s: %w", productURL, err)
	}
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
	query, args, err := s.psql.
		Insert("products").
		Columns("product_url", "product_id", "etag_hash", "image_sha256", "last_modified").
		Values(state.ProductURL, state.ProductID, state.Fingerprint, state.ImageHash, modified).
		Suffix(`ON CONFLICT (product_url) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			etag_hash = EXCLUDED.etag_hash,
			image_sha256 = EXCLUDED.image_sha256,
			last_modified = EXCLUDED.last_modified`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build product upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert product %s: %w", state.ProductURL, err)
	}
	return nil
}

// GetImage looks an image up by content hash.
func (s *Store) GetImage(ctx context.Context, contentHash string) (catalog.ImageRecord, bool, error) {
	if contentHash == "" {
		return catalog.ImageRecord{}, false, nil
	}
	return s.getImage(ctx, s.imageSelect().Where(sq.Eq{"sha256": contentHash}), contentHash)
}

// GetImageByOriginalURL returns the most recently updated image for originalURL.
func (s *Store) GetImageByOriginalURL(ctx context.Context, originalURL string) (catalog.ImageRecord, bool, error) {
	if originalURL == "" {
		return catalog.ImageRecord{}, false, nil
	}
	builder := s.imageSelect().
		Where(sq.Eq{"original_url": originalURL}).
		OrderBy("updated_at DESC").
		Limit(1)
	return s.getImage(ctx, builder, originalURL)
}

// SaveImage upserts on content hash.
func (s *Store) SaveImage(ctx context.Context, record catalog.ImageRecord) error {
	if record.ContentHash == "" {
		return fmt.Errorf("image content hash is required")
	}
	updated := record.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	query, args, err := s.psql.
		Insert("images").
		Columns("sha256", "direct_url", "viewer_url", "thumb_url", "original_url", "updated_at").
		Values(record.ContentHash, record.DirectURL, record.ViewerURL, record.ThumbURL, record.OriginalURL, updated).
		Suffix(`ON CONFLICT (sha256) DO UPDATE SET
			direct_url = EXCLUDED.direct_url,
			viewer_url = EXCLUDED.viewer_url,
			thumb_url = EXCLUDED.thumb_url,
			original_url = EXCLUDED.original_url,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build image upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save image %s: %w", record.ContentHash, err)
	}
	return nil
}

func (s *Store) imageSelect() sq.SelectBuilder {
	return s.psql.
		Select("sha256", "direct_url", "viewer_url", "thumb_url", "original_url", "updated_at").
		From("images")
}

func (s *Store) getImage(ctx context.Context, builder sq.SelectBuilder, key string) (catalog.ImageRecord, bool, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return catalog.ImageRecord{}, false, fmt.Errorf("build image query: %w", err)
	}
	var rec catalog.ImageRecord
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&rec.ContentHash, &rec.DirectURL, &rec.ViewerURL, &rec.ThumbURL, &rec.OriginalURL, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ImageRecord{}, false, nil
	}
	if err != nil {
		return catalog.ImageRecord{}, false, fmt.Errorf("get image %s: %w", key, err)
	}
	return rec, true, nil
}
