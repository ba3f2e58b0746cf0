package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer fetcher.Close()
	assert.Equal(t, 2, cap(fetcher.limiter))
	assert.Equal(t, defaultNavigationTimeout, fetcher.cfg.NavigationTimeout)
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	assert.Equal(t, defaultNavigationTimeout, fetcher.navTimeout())
	fetcher.cfg.NavigationTimeout = time.Second
	assert.Equal(t, time.Second, fetcher.navTimeout())
}

func TestUserAgentRotation(t *testing.T) {
	t.Parallel()

	assert.Empty(t, (&Fetcher{}).userAgent())
	assert.Equal(t, "only", (&Fetcher{cfg: Config{UserAgents: []string{"only"}}}).userAgent())

	agents := []string{"a", "b", "c"}
	f := &Fetcher{cfg: Config{UserAgents: agents}}
	for i := 0; i < 20; i++ {
		assert.Contains(t, agents, f.userAgent())
	}
}

func TestAllocatorOptionsIncludeProxy(t *testing.T) {
	t.Parallel()

	base := len(allocatorOptions(Config{}))
	assert.Len(t, allocatorOptions(Config{Proxy: "http://proxy:3128"}), base+1)
}

func TestAgeGateXPathMentionsConfirmation(t *testing.T) {
	t.Parallel()

	assert.Contains(t, AgeGateXPath, "Мне исполнилось 18 лет")
	assert.Contains(t, AgeGateXPath, "age-confirm")
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	assert.Len(t, src["X-Test"], 2, "source header mutated")

	netHeaders := toNetworkHeaders(src)
	v, ok := netHeaders["X-Test"].([]string)
	require.True(t, ok)
	assert.Len(t, v, 2)
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/frame"},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 203, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://example.com/rendered", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	assert.Equal(t, "https://req", url)
}
