// Package archive keeps a copy of each fetched product page.
package archive

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
)

const contentTypeHTML = "text/html; charset=utf-8"

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Archiver writes pages to a blob store. A nil Archiver discards pages.
type Archiver struct {
	store  catalog.BlobStore
	prefix string
	logger *zap.Logger
}

// New returns an Archiver, or nil when store is nil.
func New(store catalog.BlobStore, prefix string, logger *zap.Logger) *Archiver {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Save stores html for pageURL and returns the object URI. Failures are
// logged and yield "".
func (a *Archiver) Save(ctx context.Context, pageURL string, html []byte) string {
	if a == nil || len(html) == 0 {
		return ""
	}
	uri, err := a.store.PutObject(ctx, ObjectPath(a.prefix, pageURL), contentTypeHTML, html)
	if err != nil {
		a.logger.Warn("archive page failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	a.logger.Debug("page archived", zap.String("url", pageURL), zap.String("uri", uri))
	return uri
}

// ObjectPath maps a page URL to a stable object name under prefix.
func ObjectPath(prefix, rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	digest := hex.EncodeToString(sum[:])[:16]

	host, p := "unknown", ""
	if u, err := url.Parse(rawURL); err == nil {
		if u.Hostname() != "" {
			host = u.Hostname()
		}
		p = strings.Trim(u.EscapedPath(), "/")
	}
	if p == "" {
		p = "root"
	}
	host = invalidNameChars.ReplaceAllString(host, "_")
	p = invalidNameChars.ReplaceAllString(p, "_")
	name := p + "_" + digest + ".html"
	if prefix == "" {
		return path.Join(host, name)
	}
	return path.Join(prefix, host, name)
}
