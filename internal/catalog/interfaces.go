package catalog

import (
	"context"
	"time"
)

// StateStore persists product change-detection state.
type StateStore interface {
	GetProduct(ctx context.Context, productURL string) (ProductState, bool, error)
	UpsertProduct(ctx context.Context, state ProductState) error
}

// ImageStore is the content-addressed record of hosted images.
type ImageStore interface {
	GetImage(ctx context.Context, contentHash string) (ImageRecord, bool, error)
	GetImageByOriginalURL(ctx context.Context, originalURL string) (ImageRecord, bool, error)
	SaveImage(ctx context.Context, record ImageRecord) error
}

// Store combines both local durable tables.
type Store interface {
	StateStore
	ImageStore
	Close() error
}

// Sink is the external tabular destination for product rows.
type Sink interface {
	ResumePosition(ctx context.Context) int
	Upsert(ctx context.Context, row SheetRow) WriteResult
}

// PageFetcher loads a page and returns its HTML.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
