package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestObserversRegisterLazily(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(productsTotal.WithLabelValues("inserted"))
	ObserveProduct("inserted")
	assert.Equal(t, before+1, testutil.ToFloat64(productsTotal.WithLabelValues("inserted")))

	before = testutil.ToFloat64(hostingAttemptsTotal.WithLabelValues("url", "error"))
	ObserveHostingAttempt("url", "error")
	assert.Equal(t, before+1, testutil.ToFloat64(hostingAttemptsTotal.WithLabelValues("url", "error")))

	before = testutil.ToFloat64(crawlLinksTotal)
	AddProductLinks(3)
	AddProductLinks(0)
	assert.Equal(t, before+3, testutil.ToFloat64(crawlLinksTotal))

	ObserveImageResult("cached")
	ObserveSinkWrite("new")
	ObserveCrawlPage("https://shop.example/katalog/", "ok")
	ObserveRateLimitDelay("https://shop.example/", 150*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
}
