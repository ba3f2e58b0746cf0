// Package crawler walks a paginated category listing and yields its pages one
// at a time.
package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/metrics"
)

// ErrDone is returned by Next once every reachable page has been yielded.
var ErrDone = errors.New("crawl finished")

// duplicateSample caps the URLs logged for dropped cross-page duplicates.
const duplicateSample = 3

// Pacer blocks until the next navigation to rawURL may start.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config wires a category crawl.
type Config struct {
	SeedURL string
	Fetcher catalog.PageFetcher
	// Pacer is optional.
	Pacer  Pacer
	Logger *zap.Logger
}

// Stats summarizes a crawl so far.
type Stats struct {
	PagesProcessed    int
	ProductLinksFound int
	UniqueProducts    int
	// DuplicatesDropped counts links already yielded by an earlier page.
	DuplicatesDropped int
}

// Category is a pull-based breadth-first walk over the category pagination.
// It is not restartable; build a new one from the seed URL instead.
type Category struct {
	fetcher catalog.PageFetcher
	pacer   Pacer
	logger  *zap.Logger

	queue    []string
	queued   map[string]struct{}
	visited  map[string]struct{}
	products map[string]struct{}
	fallback int

	mu    sync.Mutex
	stats Stats
}

// New validates cfg and returns a crawl positioned before the seed page.
func New(cfg Config) (*Category, error) {
	if cfg.SeedURL == "" {
		return nil, fmt.Errorf("seed url is required")
	}
	if _, err := url.Parse(cfg.SeedURL); err != nil {
		return nil, fmt.Errorf("parse seed url: %w", err)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Category{
		fetcher:  cfg.Fetcher,
		pacer:    cfg.Pacer,
		logger:   logger,
		queue:    []string{cfg.SeedURL},
		queued:   map[string]struct{}{cfg.SeedURL: {}},
		visited:  map[string]struct{}{},
		products: map[string]struct{}{},
	}, nil
}

// Next fetches and returns the next category page, or ErrDone. A fetch or
// parse error is returned as is; the failed page is not retried.
func (c *Category) Next(ctx context.Context) (catalog.CategoryPage, error) {
	for len(c.queue) > 0 {
		target := c.queue[0]
		c.queue = c.queue[1:]
		delete(c.queued, target)
		if _, seen := c.visited[target]; seen {
			continue
		}
		c.visited[target] = struct{}{}
		return c.visit(ctx, target)
	}
	return catalog.CategoryPage{}, ErrDone
}

func (c *Category) visit(ctx context.Context, target string) (catalog.CategoryPage, error) {
	if err := ctx.Err(); err != nil {
		return catalog.CategoryPage{}, err
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, target); err != nil {
			return catalog.CategoryPage{}, err
		}
	}
	c.logger.Info("fetching category page", zap.String("url", target))
	resp, err := c.fetcher.Fetch(ctx, catalog.FetchRequest{URL: target, WaitSelector: ProductLinkSelector})
	if err != nil {
		metrics.ObserveCrawlPage(target, "error")
		return catalog.CategoryPage{}, fmt.Errorf("fetch category page %s: %w", target, err)
	}

	pageURL := target
	if resp.URL != "" {
		pageURL = resp.URL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		metrics.ObserveCrawlPage(target, "error")
		return catalog.CategoryPage{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		metrics.ObserveCrawlPage(target, "error")
		return catalog.CategoryPage{}, fmt.Errorf("parse category html: %w", err)
	}
	c.visited[pageURL] = struct{}{}

	c.fallback++
	pageNumber := PageNumber(pageURL)
	if pageNumber == 0 {
		pageNumber = c.fallback
	}

	links, dups := ProductLinks(doc, base, pageNumber)
	if dups > 0 {
		c.logger.Info("dropped duplicate product links",
			zap.String("url", pageURL), zap.Int("page", pageNumber), zap.Int("duplicates", dups))
	}
	discovered := PaginationLinks(doc, base, pageNumber)
	for _, next := range discovered {
		if _, ok := c.visited[next]; ok {
			continue
		}
		if _, ok := c.queued[next]; ok {
			continue
		}
		c.queue = append(c.queue, next)
		c.queued[next] = struct{}{}
	}

	links = c.record(pageURL, links)
	metrics.ObserveCrawlPage(pageURL, "ok")
	c.logger.Info("category page parsed",
		zap.Int("page", pageNumber), zap.Int("products", len(links)), zap.Int("new_pages", len(discovered)))

	return catalog.CategoryPage{
		URL:             pageURL,
		PageNumber:      pageNumber,
		ProductLinks:    links,
		DiscoveredPages: discovered,
		RawHTML:         resp.Body,
	}, nil
}

// record keeps the links not yielded by an earlier page and updates the
// counters. Links keep their on-page PagePosition.
func (c *Category) record(pageURL string, links []catalog.ProductLink) []catalog.ProductLink {
	fresh := make([]catalog.ProductLink, 0, len(links))
	var dropped []string
	for _, l := range links {
		if _, ok := c.products[l.URL]; ok {
			dropped = append(dropped, l.URL)
			continue
		}
		c.products[l.URL] = struct{}{}
		fresh = append(fresh, l)
	}
	if len(dropped) > 0 {
		sample := dropped
		if len(sample) > duplicateSample {
			sample = sample[:duplicateSample]
		}
		c.logger.Info("dropped product links seen on earlier pages",
			zap.String("url", pageURL), zap.Int("duplicates", len(dropped)), zap.Strings("sample", sample))
	}
	metrics.AddProductLinks(len(fresh))
	c.mu.Lock()
	c.stats.PagesProcessed++
	c.stats.ProductLinksFound += len(links)
	c.stats.UniqueProducts = len(c.products)
	c.stats.DuplicatesDropped += len(dropped)
	c.mu.Unlock()
	return fresh
}

// Stats returns a snapshot of the crawl counters.
func (c *Category) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
