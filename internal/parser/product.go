// Package parser extracts raw product fields from a rendered product page.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/textnorm"
)

// Section keys used in ProductRaw.Sections.
const (
	SectionTastingNotes  = "tasting_notes"
	SectionGastronomy    = "gastronomy"
	SectionGrapes        = "grapes"
	SectionMaturation    = "maturation"
	SectionAwards        = "awards"
	SectionProducer      = "producer"
	SectionGiftPackaging = "gift_packaging"
)

// Markup of the product page.
const (
	TitleSelector = "h1"
	imageSelector = ".product__content-img img, .product__gallery img, img[src*='/upload/']"
	currencyRUB   = "RUB"
)

var skuRe = regexp.MustCompile(`(?i)Артикул:\s*([A-Za-z0-9\-_/]+)`)

// sectionTitles maps lowercased h4 title prefixes to section keys.
var sectionTitles = []struct {
	prefix string
	key    string
}{
	{"дегустационные характеристики", SectionTastingNotes},
	{"гастрономия", SectionGastronomy},
	{"сортовой состав", SectionGrapes},
	{"способ выдержки", SectionMaturation},
	{"награды и оценки товара", SectionAwards},
	{"производитель", SectionProducer},
	{"подарочная упаковка", SectionGiftPackaging},
}

// Stats counts parse outcomes.
type Stats struct {
	Parsed   int
	Failures int
}

// Parser turns product HTML into catalog.ProductRaw.
type Parser struct {
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Stats returns a snapshot of the parse counters.
func (p *Parser) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Parse extracts fields from body, the page fetched for link.
func (p *Parser) Parse(link catalog.ProductLink, body []byte) (catalog.ProductRaw, error) {
	raw, err := parse(link, body)
	p.mu.Lock()
	if err != nil {
		p.stats.Failures++
	} else {
		p.stats.Parsed++
	}
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("product parse failed", zap.String("url", link.URL), zap.Error(err))
		return catalog.ProductRaw{}, err
	}
	return raw, nil
}

func parse(link catalog.ProductLink, body []byte) (catalog.ProductRaw, error) {
	base, err := url.Parse(link.URL)
	if err != nil {
		return catalog.ProductRaw{}, fmt.Errorf("parse product url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return catalog.ProductRaw{}, fmt.Errorf("parse product html: %w", err)
	}

	title := firstText(doc, TitleSelector)
	if title == "" {
		return catalog.ProductRaw{}, fmt.Errorf("product page %s has no title", link.URL)
	}
	sku := extractSKU(firstText(doc, ".product__id"))
	productID := textnorm.Clean(doc.Find("[data-product-id]").First().AttrOr("data-product-id", ""))
	if productID == "" {
		productID = sku
	}

	var facts []string
	doc.Find(".product__facts-item").Each(func(_ int, s *goquery.Selection) {
		if t := textnorm.Clean(s.Text()); t != "" {
			facts = append(facts, t)
		}
	})
	volumeText := firstContaining(facts, "л")
	abvText := firstContaining(facts, "%")
	priceText := firstText(doc, ".product__buy-box-price")

	sections := extractSections(doc)
	var grapes []string
	if s, ok := sections[SectionGrapes]; ok {
		grapes = s.Items
	}

	images := extractImages(doc, base)
	hero := ""
	if len(images) > 0 {
		hero = images[0]
	}
	currency := ""
	if priceText != "" {
		currency = currencyRUB
	}

	return catalog.ProductRaw{
		ProductURL:       link.URL,
		SourcePageURL:    link.SourcePageURL,
		PageNumber:       link.PageNumber,
		Title:            title,
		SKU:              sku,
		ProductID:        productID,
		Country:          firstText(doc, ".product__titles-region a"),
		Brand:            firstText(doc, ".product__titles-name"),
		Producer:         producerFrom(sections),
		Breadcrumbs:      breadcrumbs(doc),
		PriceText:        priceText,
		PriceValue:       textnorm.Price(priceText),
		PriceCurrency:    currency,
		VolumeText:       volumeText,
		VolumeL:          textnorm.VolumeLiters(volumeText),
		ABVText:          abvText,
		ABVPercent:       textnorm.ABVPercent(abvText),
		AvailabilityText: firstText(doc, ".product__buy-box-footer"),
		Grapes:           grapes,
		Sections:         sections,
		ImageURLs:        images,
		HeroImageURL:     hero,
		RawHTML:          body,
	}, nil
}

func firstText(doc *goquery.Document, selector string) string {
	return textnorm.Clean(doc.Find(selector).First().Text())
}

func firstContaining(values []string, marker string) string {
	marker = strings.ToLower(marker)
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), marker) {
			return v
		}
	}
	return ""
}

func extractSKU(text string) string {
	if text == "" {
		return ""
	}
	if m := skuRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "Артикул:", ""))
}

func breadcrumbs(doc *goquery.Document) []string {
	var out []string
	doc.Find(".ui-breadcrumbs__item").Each(func(_ int, s *goquery.Selection) {
		if t := textnorm.Clean(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// extractSections reads each recognized h4 and the siblings up to the next h4.
func extractSections(doc *goquery.Document) map[string]catalog.Section {
	sections := map[string]catalog.Section{}
	doc.Find("h4").Each(func(_ int, heading *goquery.Selection) {
		title := textnorm.Clean(heading.Text())
		if title == "" {
			return
		}
		key := sectionKey(strings.TrimRight(strings.ToLower(title), ":"))
		if key == "" {
			return
		}
		section := collectSection(heading.Nodes[0])
		section.Title = strings.TrimRight(title, ":")
		if key == SectionGrapes {
			section.Items = textnorm.SplitList(section.RawText)
		}
		sections[key] = section
	})
	return sections
}

func sectionKey(title string) string {
	for _, s := range sectionTitles {
		if strings.HasPrefix(title, s.prefix) {
			return s.key
		}
	}
	return ""
}

func collectSection(heading *html.Node) catalog.Section {
	var htmlParts, textParts, rawParts []string
	for n := heading.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && n.Data == "h4" {
			break
		}
		if n.Type != html.ElementNode && n.Type != html.TextNode {
			continue
		}
		var buf bytes.Buffer
		if err := html.Render(&buf, n); err == nil {
			htmlParts = append(htmlParts, buf.String())
		}
		raw := nodeText(n)
		if raw == "" {
			continue
		}
		rawParts = append(rawParts, raw)
		if t := textnorm.Clean(raw); t != "" {
			textParts = append(textParts, t)
		}
	}
	return catalog.Section{
		HTML:    strings.TrimSpace(strings.Join(htmlParts, "")),
		Text:    strings.TrimSpace(strings.Join(textParts, "\n")),
		RawText: strings.TrimSpace(strings.Join(rawParts, "\n")),
	}
}

// nodeText joins the trimmed text nodes under n with newlines.
func nodeText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, "\n")
}

func producerFrom(sections map[string]catalog.Section) string {
	s, ok := sections[SectionProducer]
	if !ok {
		return ""
	}
	if len(s.Items) > 0 {
		return s.Items[0]
	}
	return textnorm.Clean(s.Text)
}

func extractImages(doc *goquery.Document, base *url.URL) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		u, err := url.Parse(ref)
		if err != nil {
			return
		}
		abs := base.ResolveReference(u).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	doc.Find(imageSelector).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", ""))
		for _, candidate := range srcset(s.AttrOr("srcset", "")) {
			add(candidate)
		}
	})
	return out
}

func srcset(value string) []string {
	var out []string
	for _, chunk := range strings.Split(value, ",") {
		if fields := strings.Fields(chunk); len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}
