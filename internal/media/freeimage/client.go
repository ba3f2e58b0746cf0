// Package freeimage is a client for the freeimage.host upload API.
package freeimage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-sync/internal/media"
)

// DefaultEndpoint is the public upload endpoint.
const DefaultEndpoint = "https://freeimage.host/api/1/upload"

const maxResponseBytes = 1 << 20

var (
	// ErrStatus reports a non-200 HTTP status.
	ErrStatus = errors.New("freeimage: unexpected status")
	// ErrMalformed reports a body that is not the expected JSON document.
	ErrMalformed = errors.New("freeimage: malformed response")
	// ErrNotSuccessful reports a well-formed response without a success code
	// or without a hosted image URL.
	ErrNotSuccessful = errors.New("freeimage: upload not successful")
)

// Config holds the API credentials and timeouts.
type Config struct {
	APIKey         string
	Endpoint       string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

// Client uploads images by URL or by bytes. Each call is a single attempt;
// retries belong to the caller.
type Client struct {
	http      *http.Client
	endpoint  string
	apiKey    string
	userAgent string
}

var _ media.Hoster = (*Client)(nil)

// New builds a client. A nil httpClient gets one with cfg's timeouts.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = newHTTPClient(cfg)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		http:      httpClient,
		endpoint:  endpoint,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
	}
}

func newHTTPClient(cfg Config) *http.Client {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 15 * time.Second
	}
	total := cfg.RequestTimeout
	if total <= 0 {
		total = 75 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connect
	return &http.Client{Timeout: total, Transport: transport}
}

// UploadURL asks the API to fetch and host the image at sourceURL.
func (c *Client) UploadURL(ctx context.Context, sourceURL string) (media.Hosted, error) {
	form := c.baseForm()
	form.Set("source", sourceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return media.Hosted{}, fmt.Errorf("build url upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// UploadBytes posts data as a multipart "source" file.
func (c *Client) UploadBytes(ctx context.Context, data []byte, filename string) (media.Hosted, error) {
	if filename == "" {
		filename = "image.jpg"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, values := range c.baseForm() {
		if err := mw.WriteField(key, values[0]); err != nil {
			return media.Hosted{}, fmt.Errorf("write field %s: %w", key, err)
		}
	}
	part, err := mw.CreateFormFile("source", filename)
	if err != nil {
		return media.Hosted{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return media.Hosted{}, fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return media.Hosted{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return media.Hosted{}, fmt.Errorf("build binary upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *Client) baseForm() url.Values {
	return url.Values{
		"key":    {c.apiKey},
		"action": {"upload"},
		"format": {"json"},
	}
}

func (c *Client) do(req *http.Request) (media.Hosted, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return media.Hosted{}, fmt.Errorf("post upload: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return media.Hosted{}, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return media.Hosted{}, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, snippet(body))
	}
	return parseResponse(body)
}

type uploadResponse struct {
	Success json.RawMessage `json:"success"`
	Image   *struct {
		URL       string `json:"url"`
		URLViewer string `json:"url_viewer"`
		Thumb     *struct {
			URL string `json:"url"`
		} `json:"thumb"`
	} `json:"image"`
}

func parseResponse(body []byte) (media.Hosted, error) {
	var payload uploadResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return media.Hosted{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := checkSuccess(payload.Success); err != nil {
		return media.Hosted{}, err
	}
	if payload.Image == nil || payload.Image.URL == "" {
		return media.Hosted{}, fmt.Errorf("%w: missing image.url", ErrNotSuccessful)
	}
	hosted := media.Hosted{
		DirectURL: payload.Image.URL,
		ViewerURL: payload.Image.URLViewer,
	}
	if payload.Image.Thumb != nil {
		hosted.ThumbURL = payload.Image.Thumb.URL
	}
	return hosted, nil
}

// checkSuccess requires a truthy success indicator; an object form must
// carry code 200.
func checkSuccess(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")), bytes.Equal(trimmed, []byte("false")):
		return fmt.Errorf("%w: missing success indicator", ErrNotSuccessful)
	case trimmed[0] == '{':
		var success struct {
			Code    json.Number `json:"code"`
			Message string      `json:"message"`
		}
		if err := json.Unmarshal(trimmed, &success); err != nil {
			return fmt.Errorf("%w: success: %w", ErrMalformed, err)
		}
		if success.Code.String() != "200" {
			return fmt.Errorf("%w: code %q %s", ErrNotSuccessful, success.Code.String(), success.Message)
		}
	}
	return nil
}

func snippet(body []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
