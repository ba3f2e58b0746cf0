// Package pipeline drives one synchronization run: it decides per product
// whether anything changed, resolves the hero image, writes the sheet row and
// records the new fingerprint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/clock/system"
	"github.com/JakeFAU/catalog-sync/internal/media"
	"github.com/JakeFAU/catalog-sync/internal/metrics"
)

// ErrNoImage is recorded on a row when the pipeline produced no direct URL
// and reported no error of its own.
var ErrNoImage = errors.New("upload skipped: missing key or empty response")

// Stage is the point a product reached inside Process.
type Stage string

// Processing stages. Every product ends in ResumeSkip, UnchangedSkip or
// StatePersisted.
const (
	StagePending        Stage = "pending"
	StageResumeSkip     Stage = "resume-skip"
	StageUnchangedSkip  Stage = "unchanged-skip"
	StageNeedsImage     Stage = "needs-image"
	StageRowBuilt       Stage = "row-built"
	StageWritten        Stage = "written"
	StageStatePersisted Stage = "state-persisted"
)

// ImageResolver resolves a hero image URL to hosted URLs.
type ImageResolver interface {
	EnsureImage(ctx context.Context, sourceURL string) (media.Result, error)
}

// Stats are the run counters.
type Stats struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Unchanged int `json:"unchanged"`
	Resumed   int `json:"resumed"`
	Failed    int `json:"failed"`
}

// Outcome describes what Process did with one product.
type Outcome struct {
	Stage       Stage
	Status      catalog.RowStatus
	Write       catalog.WriteResult
	Fingerprint string
	ImageHash   string
	ErrorMsg    string
}

// OrchestratorOptions wires an Orchestrator.
type OrchestratorOptions struct {
	State     catalog.StateStore
	Images    catalog.ImageStore
	Resolver  ImageResolver
	Sink      catalog.Sink
	Publisher catalog.Publisher
	Topic     string
	Clock     catalog.Clock
	RunID     string
	Logger    *zap.Logger
}

// Orchestrator applies the per-product change-detection flow.
type Orchestrator struct {
	state     catalog.StateStore
	images    catalog.ImageStore
	resolver  ImageResolver
	sink      catalog.Sink
	publisher catalog.Publisher
	topic     string
	clock     catalog.Clock
	runID     string
	logger    *zap.Logger

	mu     sync.Mutex
	resume int
	stats  Stats
}

// NewOrchestrator validates opts and returns an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.State == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.Images == nil {
		return nil, fmt.Errorf("image store is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("image resolver is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = system.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		state:     opts.State,
		images:    opts.Images,
		resolver:  opts.Resolver,
		sink:      opts.Sink,
		publisher: opts.Publisher,
		topic:     opts.Topic,
		clock:     clk,
		runID:     opts.RunID,
		logger:    logger,
	}, nil
}

// Begin reads the resume position from the sink. Call it once per run.
func (o *Orchestrator) Begin(ctx context.Context) int {
	pos := o.sink.ResumePosition(ctx)
	o.mu.Lock()
	o.resume = pos
	o.mu.Unlock()
	o.logger.Info("resuming run", zap.Int("resume_position", pos), zap.Int("next_position", pos+1))
	return pos
}

// Skip reports whether position was already handled by an earlier run.
func (o *Orchestrator) Skip(position int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return position <= o.resume
}

// MarkResumed counts a product skipped by the caller before fetching.
func (o *Orchestrator) MarkResumed() {
	o.count(func(s *Stats) { s.Resumed++ })
	metrics.ObserveProduct("resumed")
}

// MarkFailed counts a product that never reached Process or failed inside it.
func (o *Orchestrator) MarkFailed() {
	o.count(func(s *Stats) { s.Failed++ })
	metrics.ObserveProduct("failed")
}

// Stats returns a snapshot of the run counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Process synchronizes one normalized product at the given 1-based crawl
// position. Errors from the local state store and context cancellation are
// returned; image failures are recorded on the row instead.
func (o *Orchestrator) Process(ctx context.Context, record catalog.ProductRecord, position int) (Outcome, error) {
	out := Outcome{Stage: StagePending}
	if o.Skip(position) {
		o.MarkResumed()
		out.Stage = StageResumeSkip
		return out, nil
	}
	log := o.logger.With(zap.String("product_url", record.ProductURL), zap.Int("position", position))

	fp := catalog.Fingerprint(record)
	out.Fingerprint = fp
	prior, found, err := o.state.GetProduct(ctx, record.ProductURL)
	if err != nil {
		return out, fmt.Errorf("load product state: %w", err)
	}
	productID := record.ProductID
	if productID == "" {
		productID = record.ProductURL
	}

	if found && prior.Fingerprint == fp {
		out.Stage = StageUnchangedSkip
		out.Status = catalog.RowStatusSkipped
		out.ImageHash = prior.ImageHash
		if err := o.persist(ctx, record.ProductURL, productID, fp, prior.ImageHash); err != nil {
			return out, err
		}
		o.count(func(s *Stats) {
			s.Skipped++
			s.Unchanged++
		})
		metrics.ObserveProduct("unchanged")
		log.Debug("product unchanged")
		return out, nil
	}

	out.Stage = StageNeedsImage
	imageHash := ""
	if found {
		imageHash = prior.ImageHash
	}
	res, err := o.resolver.EnsureImage(ctx, record.HeroImageURL)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		log.Error("image pipeline failed", zap.Error(err))
		out.ErrorMsg = err.Error()
		res = media.Result{OriginalURL: record.HeroImageURL}
	}
	if res.ContentHash != "" {
		imageHash = res.ContentHash
	}
	hosted := media.Hosted{DirectURL: res.DirectURL, ViewerURL: res.ViewerURL, ThumbURL: res.ThumbURL}
	// A failed pipeline leaves the row without image URLs.
	if hosted.DirectURL == "" && imageHash != "" && out.ErrorMsg == "" {
		hosted = o.cachedHosted(ctx, imageHash, log)
	}

	status := catalog.RowStatusNew
	if found {
		status = catalog.RowStatusUpdated
	}
	if hosted.DirectURL == "" {
		if out.ErrorMsg == "" {
			out.ErrorMsg = ErrNoImage.Error()
		}
		status = catalog.RowStatusError
	}
	out.Status = status
	out.ImageHash = imageHash

	originalURL := res.OriginalURL
	if originalURL == "" {
		originalURL = record.HeroImageURL
	}
	row := catalog.SheetRow{
		Timestamp:        o.clock.Now(),
		Position:         position,
		Product:          record,
		ImageOriginalURL: originalURL,
		ImageDirectURL:   hosted.DirectURL,
		ImageViewerURL:   hosted.ViewerURL,
		ImageThumbURL:    hosted.ThumbURL,
		ImageHash:        imageHash,
		Status:           status,
		ErrorMsg:         out.ErrorMsg,
	}
	out.Stage = StageRowBuilt

	out.Write = o.sink.Upsert(ctx, row)
	out.Stage = StageWritten
	switch out.Write {
	case catalog.WriteNew:
		o.count(func(s *Stats) { s.Inserted++ })
		metrics.ObserveProduct("inserted")
	case catalog.WriteUpdated:
		o.count(func(s *Stats) { s.Updated++ })
		metrics.ObserveProduct("updated")
	default:
		o.count(func(s *Stats) { s.Skipped++ })
		metrics.ObserveProduct("skipped")
	}
	log.Info("row written", zap.String("status", string(status)), zap.String("write", string(out.Write)))

	if err := o.persist(ctx, record.ProductURL, productID, fp, imageHash); err != nil {
		return out, err
	}
	out.Stage = StageStatePersisted

	if out.Write == catalog.WriteNew || out.Write == catalog.WriteUpdated {
		o.publish(ctx, catalog.ProductChanged{
			RunID:       o.runID,
			ProductURL:  record.ProductURL,
			ProductID:   productID,
			Fingerprint: fp,
			Status:      status,
			ImageHash:   imageHash,
			Timestamp:   row.Timestamp,
		}, log)
	}
	return out, nil
}

func (o *Orchestrator) persist(ctx context.Context, productURL, productID, fp, imageHash string) error {
	err := o.state.UpsertProduct(ctx, catalog.ProductState{
		ProductURL:   productURL,
		ProductID:    productID,
		Fingerprint:  fp,
		ImageHash:    imageHash,
		LastModified: o.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("persist product state: %w", err)
	}
	return nil
}

func (o *Orchestrator) cachedHosted(ctx context.Context, hash string, log *zap.Logger) media.Hosted {
	rec, ok, err := o.images.GetImage(ctx, hash)
	if err != nil {
		log.Warn("image lookup failed", zap.String("image_hash", hash), zap.Error(err))
		return media.Hosted{}
	}
	if !ok {
		return media.Hosted{}
	}
	return media.Hosted{DirectURL: rec.DirectURL, ViewerURL: rec.ViewerURL, ThumbURL: rec.ThumbURL}
}

func (o *Orchestrator) publish(ctx context.Context, event catalog.ProductChanged, log *zap.Logger) {
	if o.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := o.publisher.Publish(pubCtx, o.topic, event); err != nil {
		log.Warn("publish product change failed", zap.Error(err))
	}
}

func (o *Orchestrator) count(fn func(*Stats)) {
	o.mu.Lock()
	fn(&o.stats)
	o.mu.Unlock()
}
