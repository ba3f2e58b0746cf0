package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// MaxImageBytes caps a single image download.
const MaxImageBytes = 20 << 20

// HTTPDownloader fetches images with a shared http.Client.
type HTTPDownloader struct {
	client    *http.Client
	userAgent string
}

// NewHTTPDownloader builds a downloader. A nil client gets a 60s timeout.
func NewHTTPDownloader(client *http.Client, userAgent string) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPDownloader{client: client, userAgent: userAgent}
}

// Download returns the body of rawURL; redirects are followed and any non-2xx
// status is an error. Bodies that are not images are rejected: a declared
// image/* type is trusted, a missing or octet-stream type is sniffed.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if !SupportedURL(rawURL) {
		return nil, fmt.Errorf("unsupported image url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	declared := mediaType(resp.Header.Get("Content-Type"))
	sniff := declared == "" || declared == "application/octet-stream" || declared == "binary/octet-stream"
	if !sniff && !isImageType(declared) {
		return nil, fmt.Errorf("download %s: content type %q is not an image", rawURL, declared)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("download %s: larger than %d bytes", rawURL, MaxImageBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download %s: empty body", rawURL)
	}
	if sniff {
		if detected := mediaType(http.DetectContentType(data)); !isImageType(detected) {
			return nil, fmt.Errorf("download %s: content looks like %q, not an image", rawURL, detected)
		}
	}
	return data, nil
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

func isImageType(mt string) bool {
	return strings.HasPrefix(mt, "image/")
}
