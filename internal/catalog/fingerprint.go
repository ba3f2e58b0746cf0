package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprintPayload fixes the field set and order hashed by Fingerprint.
// Crawl bookkeeping (position, page, source page, timestamps) is excluded.
type fingerprintPayload struct {
	ProductURL    string   `json:"product_url"`
	ProductID     string   `json:"product_id"`
	Title         string   `json:"title"`
	PriceValue    *float64 `json:"price_value"`
	PriceCurrency string   `json:"price_currency"`
	Country       string   `json:"country"`
	VolumeL       *float64 `json:"volume_l"`
	ABVPercent    *float64 `json:"abv_percent"`
	Availability  *bool    `json:"availability"`
	AgeYears      *int     `json:"age_years"`
	Brand         string   `json:"brand"`
	Producer      string   `json:"producer"`
	SKU           string   `json:"sku"`
	TastingNotes  string   `json:"tasting_notes"`
	Gastronomy    string   `json:"gastronomy"`
	Grapes        []string `json:"grapes"`
	Maturation    string   `json:"maturation"`
	Awards        string   `json:"awards"`
	GiftPackaging string   `json:"gift_packaging"`
	Breadcrumbs   []string `json:"breadcrumbs"`
	ImageURL      string   `json:"image_url"`
}

// Fingerprint returns the hex SHA-256 of the product's user-visible content.
func Fingerprint(p ProductRecord) string {
	payload := fingerprintPayload{
		ProductURL:    p.ProductURL,
		ProductID:     p.ProductID,
		Title:         p.Title,
		PriceValue:    p.PriceValue,
		PriceCurrency: p.PriceCurrency,
		Country:       p.Country,
		VolumeL:       p.VolumeL,
		ABVPercent:    p.ABVPercent,
		Availability:  p.Availability,
		AgeYears:      p.AgeYears,
		Brand:         p.Brand,
		Producer:      p.Producer,
		SKU:           p.SKU,
		TastingNotes:  p.TastingNotes,
		Gastronomy:    p.Gastronomy,
		Grapes:        nonNil(p.Grapes),
		Maturation:    p.Maturation,
		Awards:        p.Awards,
		GiftPackaging: p.GiftPackaging,
		Breadcrumbs:   nonNil(p.Breadcrumbs),
		ImageURL:      p.HeroImageURL,
	}
	// Marshal only fails on NaN/Inf floats, which the normalizer never emits.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
