// Package normalizer turns parsed product fields into a catalog.ProductRecord,
// falling back to an LLM for values the rules cannot read.
package normalizer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/clock/system"
	"github.com/JakeFAU/catalog-sync/internal/hash/sha256"
	"github.com/JakeFAU/catalog-sync/internal/llm"
	"github.com/JakeFAU/catalog-sync/internal/parser"
	"github.com/JakeFAU/catalog-sync/internal/textnorm"
)

// DefaultCurrency is assumed when a price has no explicit currency.
const DefaultCurrency = "RUB"

var ageRe = regexp.MustCompile(`(?i)(\d{1,3})\s*(?:yo|y\.o\.|год(?:а|ов)?|лет)`)

// Enricher is the LLM surface the normalizer uses.
type Enricher interface {
	Enabled() bool
	NormalizePrice(ctx context.Context, text string) llm.Result[llm.Price]
	ParseVolumeABV(ctx context.Context, text string) llm.Result[llm.VolumeABV]
	ExtractSection(ctx context.Context, title, htmlFragment string) llm.Result[llm.SectionText]
}

// Stats counts normalizer work.
type Stats struct {
	ItemsProcessed int
	LLMCalls       int
	LLMFailures    int
}

// Normalizer converts catalog.ProductRaw values.
type Normalizer struct {
	llm    Enricher
	clock  catalog.Clock
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Normalizer. enricher may be nil.
func New(enricher Enricher, clock catalog.Clock, logger *zap.Logger) *Normalizer {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{llm: enricher, clock: clock, logger: logger}
}

// Stats returns a snapshot of the counters.
func (n *Normalizer) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Normalize produces the record for raw at the given crawl position.
func (n *Normalizer) Normalize(ctx context.Context, raw catalog.ProductRaw, position int) (catalog.ProductRecord, error) {
	if raw.ProductURL == "" {
		return catalog.ProductRecord{}, fmt.Errorf("product url is required")
	}
	price, currency := n.price(ctx, raw)
	volume, abv := n.volumeABV(ctx, raw)

	grapes := raw.Grapes
	if _, items := n.section(ctx, raw.Sections, parser.SectionGrapes); len(items) > 0 {
		grapes = items
	}
	producer := textnorm.Clean(raw.Producer)
	text, items := n.section(ctx, raw.Sections, parser.SectionProducer)
	if len(items) > 0 {
		producer = items[0]
	} else if text != "" {
		producer = text
	}
	tasting, _ := n.section(ctx, raw.Sections, parser.SectionTastingNotes)
	gastronomy, _ := n.section(ctx, raw.Sections, parser.SectionGastronomy)
	maturation, _ := n.section(ctx, raw.Sections, parser.SectionMaturation)
	awards, _ := n.section(ctx, raw.Sections, parser.SectionAwards)
	gift, _ := n.section(ctx, raw.Sections, parser.SectionGiftPackaging)

	productID := textnorm.Clean(raw.ProductID)
	if productID == "" {
		productID = sha256.String(raw.ProductURL)
	}

	record := catalog.ProductRecord{
		ProductURL:    raw.ProductURL,
		ProductID:     productID,
		SourcePageURL: raw.SourcePageURL,
		PageNumber:    raw.PageNumber,
		Position:      position,
		Title:         textnorm.Clean(raw.Title),
		SKU:           textnorm.Clean(raw.SKU),
		Country:       textnorm.Clean(raw.Country),
		Brand:         textnorm.Clean(raw.Brand),
		Producer:      producer,
		PriceValue:    price,
		PriceCurrency: currency,
		VolumeL:       volume,
		ABVPercent:    abv,
		AgeYears:      age(raw),
		Availability:  Availability(raw.AvailabilityText),
		TastingNotes:  tasting,
		Gastronomy:    gastronomy,
		Grapes:        grapes,
		Maturation:    maturation,
		Awards:        awards,
		GiftPackaging: gift,
		Breadcrumbs:   raw.Breadcrumbs,
		ImageURLs:     raw.ImageURLs,
		HeroImageURL:  raw.HeroImageURL,
		CrawledAt:     n.clock.Now(),
	}
	n.mu.Lock()
	n.stats.ItemsProcessed++
	n.mu.Unlock()
	return record, nil
}

func (n *Normalizer) price(ctx context.Context, raw catalog.ProductRaw) (*float64, string) {
	value := raw.PriceValue
	currency := raw.PriceCurrency
	if value == nil && raw.PriceText != "" {
		value = textnorm.Price(raw.PriceText)
	}
	if currency == "" && value != nil {
		currency = DefaultCurrency
	}
	if value == nil && raw.PriceText != "" && n.llmEnabled() {
		res := n.llm.NormalizePrice(ctx, raw.PriceText)
		if n.track("price", res.OK, res.Reason) {
			value = res.Value.Value.Value
			if c := textnorm.Clean(res.Value.Currency); c != "" {
				currency = c
			}
		}
	}
	return value, currency
}

func (n *Normalizer) volumeABV(ctx context.Context, raw catalog.ProductRaw) (*float64, *float64) {
	volume := raw.VolumeL
	if volume == nil {
		volume = textnorm.VolumeLiters(raw.VolumeText)
	}
	abv := raw.ABVPercent
	if abv == nil {
		abv = textnorm.ABVPercent(raw.ABVText)
	}
	if (volume == nil || abv == nil) && (raw.VolumeText != "" || raw.ABVText != "") && n.llmEnabled() {
		source := strings.TrimSpace(raw.VolumeText + " " + raw.ABVText)
		res := n.llm.ParseVolumeABV(ctx, source)
		if n.track("volume_abv", res.OK, res.Reason) {
			if volume == nil {
				volume = res.Value.VolumeL.Value
			}
			if abv == nil {
				abv = res.Value.ABV.Value
			}
		}
	}
	return volume, abv
}

// section returns the cleaned text and list items of a section, asking the
// LLM only when the section has markup but no readable text.
func (n *Normalizer) section(ctx context.Context, sections map[string]catalog.Section, key string) (string, []string) {
	s, ok := sections[key]
	if !ok {
		return "", nil
	}
	text := textnorm.Clean(s.Text)
	var items []string
	for _, item := range s.Items {
		if item != "" {
			items = append(items, item)
		}
	}
	if text != "" || len(items) > 0 || s.HTML == "" || !n.llmEnabled() {
		return text, items
	}
	res := n.llm.ExtractSection(ctx, s.Title, s.HTML)
	if !n.track("section", res.OK, res.Reason) {
		return text, items
	}
	items = nil
	for _, item := range res.Value.List {
		if v := textnorm.Clean(fmt.Sprint(item)); v != "" {
			items = append(items, v)
		}
	}
	return textnorm.Clean(res.Value.Text), items
}

func (n *Normalizer) llmEnabled() bool {
	return n.llm != nil && n.llm.Enabled()
}

// track counts an LLM call and reports whether it produced a value.
func (n *Normalizer) track(mode string, ok bool, reason string) bool {
	n.mu.Lock()
	if ok {
		n.stats.LLMCalls++
	} else {
		n.stats.LLMFailures++
	}
	n.mu.Unlock()
	if !ok {
		n.logger.Debug("llm unavailable", zap.String("mode", mode), zap.String("reason", reason))
	}
	return ok
}

func age(raw catalog.ProductRaw) *int {
	candidates := []string{raw.Title}
	if s, ok := raw.Sections[parser.SectionMaturation]; ok {
		candidates = append(candidates, s.Text)
	}
	for _, text := range candidates {
		m := ageRe.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil {
			return &v
		}
	}
	return nil
}

// Availability maps stock phrases to true, false or unknown (nil).
func Availability(text string) *bool {
	lowered := strings.ToLower(text)
	if lowered == "" {
		return nil
	}
	var v bool
	switch {
	case strings.Contains(lowered, "нет в наличии"),
		strings.Contains(lowered, "ожидается"),
		strings.Contains(lowered, "под заказ"):
		v = false
	case strings.Contains(lowered, "в наличии"):
		v = true
	default:
		return nil
	}
	return &v
}
