package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	for _, stmt := range schema {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	store, err := NewWithPool(context.Background(), mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(context.Background(), nil)
	require.Error(t, err)
}

func TestNewWithPoolSchemaError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(schema[0])).WillReturnError(errors.New("permission denied"))

	_, err = NewWithPool(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaUpgradesLegacyProducts(t *testing.T) {
	t.Parallel()

	// Tables created before product ids and fingerprints only had product_url.
	upgrades := []string{
		`ALTER TABLE products ADD COLUMN IF NOT EXISTS product_id TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE products ADD COLUMN IF NOT EXISTS etag_hash TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE products ADD COLUMN IF NOT EXISTS image_sha256 TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE products ADD COLUMN IF NOT EXISTS last_modified TIMESTAMPTZ NOT NULL DEFAULT now()`,
	}
	for _, stmt := range upgrades {
		assert.Contains(t, schema, stmt)
	}

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	for _, stmt := range schema {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(pgxmock.NewResult("ALTER", 0))
	}
	_, err = NewWithPool(context.Background(), mock)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	modified := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE product_url = $1")).
		WithArgs("https://shop/p/1").
		WillReturnRows(pgxmock.NewRows([]string{"product_url", "product_id", "etag_hash", "image_sha256", "last_modified"}).
			AddRow("https://shop/p/1", "SKU-1", "etag", "img", modified))

	got, ok, err := store.GetProduct(context.Background(), "https://shop/p/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, catalog.ProductState{
		ProductURL:   "https://shop/p/1",
		ProductID:    "SKU-1",
		Fingerprint:  "etag",
		ImageHash:    "img",
		LastModified: modified,
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM products")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.GetProduct(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProduct(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO products (product_url,product_id,etag_hash,image_sha256,last_modified) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (product_url) DO UPDATE")).
		WithArgs("https://shop/p/1", "SKU-1", "etag", "img", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.UpsertProduct(context.Background(), catalog.ProductState{
		ProductURL: "https://shop/p/1", ProductID: "SKU-1", Fingerprint: "etag", ImageHash: "img",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO products").
		WillReturnError(errors.New("connection reset"))

	err := store.UpsertProduct(context.Background(), catalog.ProductState{ProductURL: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert product u")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetImageByOriginalURLOrdersByRecency(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	updated := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM images WHERE original_url = $1 ORDER BY updated_at DESC LIMIT 1")).
		WithArgs("https://shop/a.jpg").
		WillReturnRows(pgxmock.NewRows([]string{"sha256", "direct_url", "viewer_url", "thumb_url", "original_url", "updated_at"}).
			AddRow("h1", "https://img/1", "https://view/1", "https://thumb/1", "https://shop/a.jpg", updated))

	got, ok, err := store.GetImageByOriginalURL(context.Background(), "https://shop/a.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h1", got.ContentHash)
	assert.Equal(t, "https://view/1", got.ViewerURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetImageEmptyHashSkipsQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, ok, err := store.GetImage(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveImage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	updated := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO images (sha256,direct_url,viewer_url,thumb_url,original_url,updated_at)")).
		WithArgs("h1", "https://img/1", "", "", "https://shop/a.jpg", updated).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SaveImage(context.Background(), catalog.ImageRecord{
		ContentHash: "h1", DirectURL: "https://img/1", OriginalURL: "https://shop/a.jpg", UpdatedAt: updated,
	})
	require.NoError(t, err)
	require.Error(t, store.SaveImage(context.Background(), catalog.ImageRecord{}))
	require.NoError(t, mock.ExpectationsWereMet())
}
