package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/archive"
	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/crawler"
	"github.com/JakeFAU/catalog-sync/internal/normalizer"
	"github.com/JakeFAU/catalog-sync/internal/parser"
)

// Crawl yields category pages until crawler.ErrDone.
type Crawl interface {
	Next(ctx context.Context) (catalog.CategoryPage, error)
	Stats() crawler.Stats
}

// ProductParser extracts raw fields from a product page.
type ProductParser interface {
	Parse(link catalog.ProductLink, body []byte) (catalog.ProductRaw, error)
	Stats() parser.Stats
}

// ProductNormalizer converts raw fields into a record.
type ProductNormalizer interface {
	Normalize(ctx context.Context, raw catalog.ProductRaw, position int) (catalog.ProductRecord, error)
	Stats() normalizer.Stats
}

// RunnerOptions wires a Runner. Pacer and Archive are optional.
type RunnerOptions struct {
	Crawl        Crawl
	Fetcher      catalog.PageFetcher
	Pacer        crawler.Pacer
	Archive      *archive.Archiver
	Parser       ProductParser
	Normalizer   ProductNormalizer
	Orchestrator *Orchestrator
	RunID        string
	Logger       *zap.Logger
}

// Runner drives a whole synchronization run, one product at a time.
type Runner struct {
	crawl      Crawl
	fetcher    catalog.PageFetcher
	pacer      crawler.Pacer
	archive    *archive.Archiver
	parser     ProductParser
	normalizer ProductNormalizer
	orch       *Orchestrator
	runID      string
	logger     *zap.Logger
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	switch {
	case opts.Crawl == nil:
		return nil, fmt.Errorf("crawl is required")
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case opts.Parser == nil:
		return nil, fmt.Errorf("parser is required")
	case opts.Normalizer == nil:
		return nil, fmt.Errorf("normalizer is required")
	case opts.Orchestrator == nil:
		return nil, fmt.Errorf("orchestrator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		crawl:      opts.Crawl,
		fetcher:    opts.Fetcher,
		pacer:      opts.Pacer,
		archive:    opts.Archive,
		parser:     opts.Parser,
		normalizer: opts.Normalizer,
		orch:       opts.Orchestrator,
		runID:      opts.RunID,
		logger:     logger.With(zap.String("run_id", opts.RunID)),
	}, nil
}

// Run consumes the crawl stream and processes every product link in order.
// Per-product failures are counted and logged; crawl errors and context
// cancellation end the run. The summary is logged either way.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	r.orch.Begin(ctx)
	err := r.loop(ctx)
	stats := r.orch.Stats()
	r.summarize(stats, time.Since(start), err)
	return stats, err
}

func (r *Runner) loop(ctx context.Context) error {
	position := 0
	for {
		page, err := r.crawl.Next(ctx)
		if errors.Is(err, crawler.ErrDone) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("crawl category: %w", err)
		}
		for _, link := range page.ProductLinks {
			position++
			if r.orch.Skip(position) {
				r.orch.MarkResumed()
				continue
			}
			if err := r.processLink(ctx, link, position); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.orch.MarkFailed()
				r.logger.Error("product failed",
					zap.String("product_url", link.URL),
					zap.Int("position", position),
					zap.Error(err),
				)
			}
		}
	}
}

func (r *Runner) processLink(ctx context.Context, link catalog.ProductLink, position int) error {
	if r.pacer != nil {
		if err := r.pacer.Wait(ctx, link.URL); err != nil {
			return fmt.Errorf("pace: %w", err)
		}
	}
	resp, err := r.fetcher.Fetch(ctx, catalog.FetchRequest{URL: link.URL, WaitSelector: parser.TitleSelector})
	if err != nil {
		return fmt.Errorf("fetch product: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch product: status %d", resp.StatusCode)
	}
	r.archive.Save(ctx, link.URL, resp.Body)

	raw, err := r.parser.Parse(link, resp.Body)
	if err != nil {
		return fmt.Errorf("parse product: %w", err)
	}
	record, err := r.normalizer.Normalize(ctx, raw, position)
	if err != nil {
		return fmt.Errorf("normalize product: %w", err)
	}
	if _, err := r.orch.Process(ctx, record, position); err != nil {
		return err
	}
	return nil
}

func (r *Runner) summarize(stats Stats, elapsed time.Duration, err error) {
	crawl := r.crawl.Stats()
	parsed := r.parser.Stats()
	norm := r.normalizer.Stats()
	fields := []zap.Field{
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("failed", stats.Failed),
		zap.Int("resumed", stats.Resumed),
		zap.Int("pages_processed", crawl.PagesProcessed),
		zap.Int("product_links_found", crawl.ProductLinksFound),
		zap.Int("unique_products", crawl.UniqueProducts),
		zap.Int("parsed", parsed.Parsed),
		zap.Int("parse_failures", parsed.Failures),
		zap.Int("normalized", norm.ItemsProcessed),
		zap.Int("llm_calls", norm.LLMCalls),
		zap.Int("llm_failures", norm.LLMFailures),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		r.logger.Error("sync run aborted", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("sync run complete", fields...)
}
