// Package media resolves a product's hero image to hosted URLs, uploading each
// distinct image at most once.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/metrics"
	"github.com/JakeFAU/catalog-sync/internal/retry"
)

// ErrUploadFailed is returned when the binary upload exhausted its retries.
var ErrUploadFailed = errors.New("image upload failed")

// Hosted is the URL triple returned by the hosting service.
type Hosted struct {
	DirectURL string
	ViewerURL string
	ThumbURL  string
}

// Hoster uploads images. Implementations make a single attempt per call.
type Hoster interface {
	UploadURL(ctx context.Context, sourceURL string) (Hosted, error)
	UploadBytes(ctx context.Context, data []byte, filename string) (Hosted, error)
}

// Downloader fetches raw bytes over HTTP(S).
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Result describes how an image was resolved.
type Result struct {
	ContentHash string
	DirectURL   string
	ViewerURL   string
	ThumbURL    string
	OriginalURL string
	Uploaded    bool
	Cached      bool
}

// Options wires an Uploader.
type Options struct {
	// Enabled is false when no hosting API key is configured.
	Enabled    bool
	Hoster     Hoster
	Downloader Downloader
	Images     catalog.ImageStore
	Hasher     catalog.Hasher
	Retry      *retry.Policy
	Logger     *zap.Logger
}

// Uploader implements the image pipeline.
type Uploader struct {
	enabled    bool
	hoster     Hoster
	downloader Downloader
	images     catalog.ImageStore
	hasher     catalog.Hasher
	retry      *retry.Policy
	logger     *zap.Logger
}

// NewUploader validates opts and returns an Uploader.
func NewUploader(opts Options) (*Uploader, error) {
	if opts.Images == nil {
		return nil, fmt.Errorf("image store is required")
	}
	if opts.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if opts.Enabled && (opts.Hoster == nil || opts.Downloader == nil) {
		return nil, fmt.Errorf("hoster and downloader are required when hosting is enabled")
	}
	policy := opts.Retry
	if policy == nil {
		policy = retry.NewPolicy(3, 0, 0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		enabled:    opts.Enabled,
		hoster:     opts.Hoster,
		downloader: opts.Downloader,
		images:     opts.Images,
		hasher:     opts.Hasher,
		retry:      policy,
		logger:     logger,
	}, nil
}

// EnsureImage returns hosted URLs for sourceURL, reusing stored images by
// original URL or by content hash before uploading. A disabled uploader,
// an unsupported URL and a failed download all yield an empty result and a
// nil error; only an exhausted binary upload returns ErrUploadFailed.
func (u *Uploader) EnsureImage(ctx context.Context, sourceURL string) (Result, error) {
	result := Result{OriginalURL: sourceURL}
	if !u.enabled {
		metrics.ObserveImageResult("disabled")
		return result, nil
	}
	if !SupportedURL(sourceURL) {
		metrics.ObserveImageResult("unsupported")
		return result, nil
	}
	log := u.logger.With(zap.String("image_url", sourceURL))

	if rec, ok := u.lookupByOriginal(ctx, sourceURL, log); ok {
		metrics.ObserveImageResult("cached")
		return cachedResult(rec, sourceURL), nil
	}

	var data []byte
	hosted, err := u.uploadURL(ctx, sourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		log.Warn("remote url upload failed, falling back to download", zap.Error(err))

		data, err = u.downloader.Download(ctx, sourceURL)
		if err != nil {
			log.Warn("image download failed", zap.Error(err))
			metrics.ObserveImageResult("download_failed")
			return result, nil
		}
		hash, err := u.hasher.Hash(data)
		if err != nil {
			return result, fmt.Errorf("hash image: %w", err)
		}
		result.ContentHash = hash

		if rec, ok := u.lookupByHash(ctx, hash, log); ok {
			rec.OriginalURL = sourceURL
			rec.UpdatedAt = time.Time{}
			if err := u.images.SaveImage(ctx, rec); err != nil {
				log.Warn("re-associate cached image failed", zap.Error(err))
			}
			metrics.ObserveImageResult("cached")
			return cachedResult(rec, sourceURL), nil
		}

		hosted, err = u.uploadBytes(ctx, data, filenameFor(sourceURL))
		if err != nil {
			metrics.ObserveImageResult("failed")
			return result, fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
	} else {
		result.ContentHash = u.hashHosted(ctx, hosted.DirectURL, sourceURL, log)
	}

	result.DirectURL = hosted.DirectURL
	result.ViewerURL = hosted.ViewerURL
	result.ThumbURL = hosted.ThumbURL
	result.Uploaded = true
	metrics.ObserveImageResult("uploaded")

	if result.ContentHash != "" {
		err := u.images.SaveImage(ctx, catalog.ImageRecord{
			ContentHash: result.ContentHash,
			DirectURL:   hosted.DirectURL,
			ViewerURL:   hosted.ViewerURL,
			ThumbURL:    hosted.ThumbURL,
			OriginalURL: sourceURL,
		})
		if err != nil {
			log.Warn("save image record failed", zap.Error(err))
		}
	}
	return result, nil
}

func (u *Uploader) lookupByOriginal(ctx context.Context, sourceURL string, log *zap.Logger) (catalog.ImageRecord, bool) {
	rec, ok, err := u.images.GetImageByOriginalURL(ctx, sourceURL)
	if err != nil {
		log.Warn("image lookup by url failed", zap.Error(err))
		return catalog.ImageRecord{}, false
	}
	return rec, ok && rec.DirectURL != ""
}

func (u *Uploader) lookupByHash(ctx context.Context, hash string, log *zap.Logger) (catalog.ImageRecord, bool) {
	rec, ok, err := u.images.GetImage(ctx, hash)
	if err != nil {
		log.Warn("image lookup by hash failed", zap.String("sha256", hash), zap.Error(err))
		return catalog.ImageRecord{}, false
	}
	return rec, ok && rec.DirectURL != ""
}

// hashHosted downloads the hosted copy (or the source as a fallback) to learn
// the content hash. Failure leaves the hash empty.
func (u *Uploader) hashHosted(ctx context.Context, directURL, sourceURL string, log *zap.Logger) string {
	for _, candidate := range []string{directURL, sourceURL} {
		if !SupportedURL(candidate) {
			continue
		}
		data, err := u.downloader.Download(ctx, candidate)
		if err != nil {
			log.Debug("hash download failed", zap.String("candidate", candidate), zap.Error(err))
			continue
		}
		hash, err := u.hasher.Hash(data)
		if err != nil {
			log.Warn("hash image failed", zap.Error(err))
			return ""
		}
		return hash
	}
	return ""
}

func (u *Uploader) uploadURL(ctx context.Context, sourceURL string) (Hosted, error) {
	var hosted Hosted
	err := u.retry.Do(ctx, func(ctx context.Context) error {
		h, err := u.hoster.UploadURL(ctx, sourceURL)
		observeAttempt("url", err)
		if err != nil {
			return err
		}
		hosted = h
		return nil
	})
	return hosted, err
}

func (u *Uploader) uploadBytes(ctx context.Context, data []byte, filename string) (Hosted, error) {
	var hosted Hosted
	err := u.retry.Do(ctx, func(ctx context.Context) error {
		h, err := u.hoster.UploadBytes(ctx, data, filename)
		observeAttempt("binary", err)
		if err != nil {
			return err
		}
		hosted = h
		return nil
	})
	return hosted, err
}

func observeAttempt(mode string, err error) {
	if err != nil {
		metrics.ObserveHostingAttempt(mode, "error")
		return
	}
	metrics.ObserveHostingAttempt(mode, "ok")
}

func cachedResult(rec catalog.ImageRecord, sourceURL string) Result {
	return Result{
		ContentHash: rec.ContentHash,
		DirectURL:   rec.DirectURL,
		ViewerURL:   rec.ViewerURL,
		ThumbURL:    rec.ThumbURL,
		OriginalURL: sourceURL,
		Cached:      true,
	}
}

// SupportedURL reports whether rawURL is an absolute http(s) URL.
func SupportedURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func filenameFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "image.jpg"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return "image.jpg"
	}
	return name
}
