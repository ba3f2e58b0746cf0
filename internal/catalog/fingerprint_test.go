package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func sampleRecord() ProductRecord {
	return ProductRecord{
		ProductURL:    "https://shop.example/katalog/tovar/sample/",
		ProductID:     "SAMPLE-001",
		SourcePageURL: "https://shop.example/katalog/",
		PageNumber:    1,
		Position:      7,
		Title:         "Cognac SAMPLE XO",
		PriceValue:    floatPtr(9999),
		PriceCurrency: "RUB",
		Country:       "France",
		VolumeL:       floatPtr(0.7),
		ABVPercent:    floatPtr(40),
		Brand:         "Sample Brand",
		Producer:      "Sample Producer",
		Grapes:        []string{"Ugni Blanc", "Folle Blanche"},
		Breadcrumbs:   []string{"Home", "Spirits"},
		HeroImageURL:  "https://shop.example/upload/sample.jpg",
		CrawledAt:     time.Unix(1700000000, 0).UTC(),
	}
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()

	a := sampleRecord()
	b := sampleRecord()
	// Fresh backing arrays and pointers with equal values.
	b.Grapes = append([]string(nil), a.Grapes...)
	b.PriceValue = floatPtr(*a.PriceValue)

	first := Fingerprint(a)
	require.Len(t, first, 64)
	assert.Equal(t, first, Fingerprint(a))
	assert.Equal(t, first, Fingerprint(b))
}

func TestFingerprintIgnoresCrawlBookkeeping(t *testing.T) {
	t.Parallel()

	base := sampleRecord()
	moved := base
	moved.Position = 42
	moved.PageNumber = 3
	moved.SourcePageURL = "https://shop.example/katalog/?PAGEN_1=3"
	moved.CrawledAt = base.CrawledAt.Add(24 * time.Hour)
	moved.ImageURLs = []string{"https://shop.example/upload/other.jpg"}

	assert.Equal(t, Fingerprint(base), Fingerprint(moved))
}

func TestFingerprintNilAndEmptySlicesMatch(t *testing.T) {
	t.Parallel()

	a := sampleRecord()
	a.Grapes = nil
	b := sampleRecord()
	b.Grapes = []string{}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintSensitiveToContent(t *testing.T) {
	t.Parallel()

	base := Fingerprint(sampleRecord())
	yes := true

	tests := []struct {
		name   string
		mutate func(*ProductRecord)
	}{
		{"price", func(p *ProductRecord) { p.PriceValue = floatPtr(10999) }},
		{"price cleared", func(p *ProductRecord) { p.PriceValue = nil }},
		{"title", func(p *ProductRecord) { p.Title = "Cognac SAMPLE VSOP" }},
		{"availability", func(p *ProductRecord) { p.Availability = &yes }},
		{"grapes order", func(p *ProductRecord) { p.Grapes = []string{"Folle Blanche", "Ugni Blanc"} }},
		{"breadcrumbs", func(p *ProductRecord) { p.Breadcrumbs = []string{"Home"} }},
		{"hero image", func(p *ProductRecord) { p.HeroImageURL = "https://shop.example/upload/new.jpg" }},
		{"awards", func(p *ProductRecord) { p.Awards = "Gold 2020" }},
		{"product id", func(p *ProductRecord) { p.ProductID = "SAMPLE-002" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := sampleRecord()
			tt.mutate(&rec)
			assert.NotEqual(t, base, Fingerprint(rec))
		})
	}
}
