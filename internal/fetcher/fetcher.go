package fetcher

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/retry"
)

// Detector decides whether a static response needs a browser.
type Detector interface {
	ShouldPromote(req catalog.FetchRequest, resp catalog.FetchResponse) bool
}

// Promoting fetches static HTML first and falls back to a headless fetcher
// when the static fetch fails or the detector asks for promotion.
type Promoting struct {
	static   catalog.PageFetcher
	headless catalog.PageFetcher
	detector Detector
	logger   *zap.Logger
}

var _ catalog.PageFetcher = (*Promoting)(nil)

// NewPromoting wires a Promoting fetcher. A nil detector uses NewHeuristic(0).
func NewPromoting(static, headless catalog.PageFetcher, detector Detector, logger *zap.Logger) (*Promoting, error) {
	if static == nil || headless == nil {
		return nil, fmt.Errorf("static and headless fetchers are required")
	}
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, headless: headless, detector: detector, logger: logger}, nil
}

// Fetch implements catalog.PageFetcher.
func (p *Promoting) Fetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	resp, err := p.static.Fetch(ctx, req)
	if err == nil && !p.detector.ShouldPromote(req, resp) {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return catalog.FetchResponse{}, ctxErr
	}
	if err != nil {
		p.logger.Debug("static fetch failed, promoting", zap.String("url", req.URL), zap.Error(err))
	} else {
		p.logger.Debug("static page incomplete, promoting", zap.String("url", req.URL))
	}
	return p.headless.Fetch(ctx, req)
}

// Retrying retries failed fetches and 5xx responses under a retry.Policy.
type Retrying struct {
	next   catalog.PageFetcher
	policy *retry.Policy
	logger *zap.Logger
}

var _ catalog.PageFetcher = (*Retrying)(nil)

// NewRetrying wraps next. A nil policy means a single attempt.
func NewRetrying(next catalog.PageFetcher, policy *retry.Policy, logger *zap.Logger) *Retrying {
	if policy == nil {
		policy = retry.NewPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

// Fetch implements catalog.PageFetcher.
func (r *Retrying) Fetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	var out catalog.FetchResponse
	attempt := 0
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		resp, err := r.next.Fetch(ctx, req)
		if err == nil && resp.StatusCode >= http.StatusInternalServerError {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		if err != nil {
			r.logger.Debug("fetch attempt failed",
				zap.String("url", req.URL), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return catalog.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	return out, nil
}
