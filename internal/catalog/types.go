// Package catalog defines core types shared across the sync subsystems.
package catalog

import (
	"net/http"
	"time"
)

// ProductLink is a product card discovered on a category page.
type ProductLink struct {
	URL           string
	SourcePageURL string
	PageNumber    int
	// PagePosition is the 1-based index of the card on its page.
	PagePosition int
}

// CategoryPage is one page yielded by the category crawl stream.
type CategoryPage struct {
	URL             string
	PageNumber      int
	ProductLinks    []ProductLink
	DiscoveredPages []string
	RawHTML         []byte
}

// Section is a titled text block extracted from a product page.
type Section struct {
	Title   string
	Text    string
	HTML    string
	RawText string
	Items   []string
}

// ProductRaw holds extracted product fields before normalization.
type ProductRaw struct {
	ProductURL    string
	SourcePageURL string
	PageNumber    int

	Title     string
	SKU       string
	ProductID string
	Country   string
	Brand     string
	Producer  string

	Breadcrumbs []string

	PriceText     string
	PriceValue    *float64
	PriceCurrency string

	VolumeText string
	VolumeL    *float64

	ABVText    string
	ABVPercent *float64

	AvailabilityText string

	Grapes   []string
	Sections map[string]Section

	ImageURLs    []string
	HeroImageURL string

	RawHTML []byte
}

// ProductRecord is a normalized product ready for synchronization.
// It is immutable once produced by the normalizer.
type ProductRecord struct {
	ProductURL    string
	ProductID     string
	SourcePageURL string
	PageNumber    int
	Position      int

	Title    string
	SKU      string
	Country  string
	Brand    string
	Producer string

	PriceValue    *float64
	PriceCurrency string
	VolumeL       *float64
	ABVPercent    *float64
	AgeYears      *int
	Availability  *bool

	TastingNotes  string
	Gastronomy    string
	Grapes        []string
	Maturation    string
	Awards        string
	GiftPackaging string

	Breadcrumbs  []string
	ImageURLs    []string
	HeroImageURL string

	CrawledAt time.Time
}

// ProductState is the local change-detection and resumability ledger entry.
type ProductState struct {
	ProductURL   string
	ProductID    string
	Fingerprint  string
	ImageHash    string
	LastModified time.Time
}

// ImageRecord maps an image content hash to its hosted URLs.
type ImageRecord struct {
	ContentHash string
	DirectURL   string
	ViewerURL   string
	ThumbURL    string
	OriginalURL string
	UpdatedAt   time.Time
}

// RowStatus is the processing status written into the STATUS column.
type RowStatus string

// Row status values.
const (
	RowStatusNew     RowStatus = "new"
	RowStatusUpdated RowStatus = "updated"
	RowStatusSkipped RowStatus = "skipped"
	RowStatusError   RowStatus = "error"
)

// WriteResult reports what the sink did with a row.
type WriteResult string

// Sink write results.
const (
	WriteNew     WriteResult = "new"
	WriteUpdated WriteResult = "updated"
	WriteSkipped WriteResult = "skipped"
)

// SheetRow is the externally visible projection of a product.
type SheetRow struct {
	Timestamp time.Time
	Position  int
	Product   ProductRecord

	ImageOriginalURL string
	ImageDirectURL   string
	ImageViewerURL   string
	ImageThumbURL    string
	ImageHash        string

	Status   RowStatus
	ErrorMsg string
}

// Key returns the stable row key used by the sink.
func (r SheetRow) Key() string {
	return r.Product.ProductURL
}

// FetchRequest captures everything needed to load a page.
type FetchRequest struct {
	URL          string
	WaitSelector string
	Headers      http.Header
}

// FetchResponse is the result returned by a PageFetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ProductChanged is published when a product row is inserted or updated.
type ProductChanged struct {
	RunID       string    `json:"run_id"`
	ProductURL  string    `json:"product_url"`
	ProductID   string    `json:"product_id"`
	Fingerprint string    `json:"fingerprint"`
	Status      RowStatus `json:"status"`
	ImageHash   string    `json:"image_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
