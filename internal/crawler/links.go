package crawler

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
)

// Selectors and query parameter of the category listing markup.
const (
	ProductLinkSelector = "a[href^='/katalog/tovar/']"
	PaginationSelector  = "a[href*='PAGEN_1=']"
	PageParam           = "PAGEN_1"
)

// PageNumber returns the PAGEN_1 value of rawURL, or 0 when absent or invalid.
func PageNumber(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	v := u.Query().Get(PageParam)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ProductLinks returns the product cards of a listing in document order with
// in-page duplicates removed, and the number of duplicates dropped.
func ProductLinks(doc *goquery.Document, base *url.URL, pageNumber int) ([]catalog.ProductLink, int) {
	var (
		links []catalog.ProductLink
		dups  int
	)
	seen := map[string]struct{}{}
	doc.Find(ProductLinkSelector).Each(func(_ int, s *goquery.Selection) {
		abs, ok := resolve(base, s.AttrOr("href", ""))
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			dups++
			return
		}
		seen[abs] = struct{}{}
		links = append(links, catalog.ProductLink{
			URL:           abs,
			SourcePageURL: base.String(),
			PageNumber:    pageNumber,
			PagePosition:  len(links) + 1,
		})
	})
	return links, dups
}

// PaginationLinks returns pagination targets after the current page, sorted
// by page number. Links without a readable number sort last.
func PaginationLinks(doc *goquery.Document, base *url.URL, current int) []string {
	var out []string
	seen := map[string]struct{}{}
	doc.Find(PaginationSelector).Each(func(_ int, s *goquery.Selection) {
		abs, ok := resolve(base, s.AttrOr("href", ""))
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		if n := PageNumber(abs); current > 0 && n > 0 && n <= current {
			return
		}
		out = append(out, abs)
	})
	sort.SliceStable(out, func(i, j int) bool {
		return sortKey(out[i]) < sortKey(out[j])
	})
	return out
}

func sortKey(rawURL string) int {
	if n := PageNumber(rawURL); n > 0 {
		return n
	}
	return int(^uint(0) >> 1)
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}
