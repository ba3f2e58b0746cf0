package freeimage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{
  "status_code": 200,
  "success": {"message": "image uploaded", "code": 200},
  "image": {
    "url": "https://iili.io/abc.jpg",
    "url_viewer": "https://freeimage.host/i/abc",
    "thumb": {"url": "https://iili.io/abc.th.jpg"}
  }
}`

func TestUploadURLSendsForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "catalogsync", r.UserAgent())
		if !assert.NoError(t, r.ParseForm()) {
			return
		}
		assert.Equal(t, "secret", r.PostForm.Get("key"))
		assert.Equal(t, "upload", r.PostForm.Get("action"))
		assert.Equal(t, "json", r.PostForm.Get("format"))
		assert.Equal(t, "https://shop.example/upload/a.jpg", r.PostForm.Get("source"))
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "secret", Endpoint: srv.URL, UserAgent: "catalogsync"}, srv.Client())
	hosted, err := c.UploadURL(context.Background(), "https://shop.example/upload/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://iili.io/abc.jpg", hosted.DirectURL)
	assert.Equal(t, "https://freeimage.host/i/abc", hosted.ViewerURL)
	assert.Equal(t, "https://iili.io/abc.th.jpg", hosted.ThumbURL)
}

func TestUploadBytesSendsMultipart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "secret", r.FormValue("key"))
		assert.Equal(t, "upload", r.FormValue("action"))
		file, header, err := r.FormFile("source")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close() //nolint:errcheck
		data, err := io.ReadAll(file)
		assert.NoError(t, err)
		assert.Equal(t, "raw-bytes", string(data))
		assert.Equal(t, "a.jpg", header.Filename)
		_, _ = io.WriteString(w, okBody)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "secret", Endpoint: srv.URL}, srv.Client())
	hosted, err := c.UploadBytes(context.Background(), []byte("raw-bytes"), "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://iili.io/abc.jpg", hosted.DirectURL)
}

func TestUploadFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrStatus},
		{"rate limited", http.StatusTooManyRequests, `slow down`, ErrStatus},
		{"not json", http.StatusOK, `<html>oops</html>`, ErrMalformed},
		{"success code", http.StatusOK, `{"success":{"code":400},"image":{"url":"https://iili.io/x.jpg"}}`, ErrNotSuccessful},
		{"success missing", http.StatusOK, `{"image":{"url":"https://iili.io/x.jpg"}}`, ErrNotSuccessful},
		{"success false", http.StatusOK, `{"success":false,"image":{"url":"https://iili.io/x.jpg"}}`, ErrNotSuccessful},
		{"no image url", http.StatusOK, `{"success":{"code":200},"image":{"url":""}}`, ErrNotSuccessful},
		{"no image", http.StatusOK, `{"success":{"code":200}}`, ErrNotSuccessful},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := New(Config{APIKey: "secret", Endpoint: srv.URL}, srv.Client())
			_, err := c.UploadURL(context.Background(), "https://shop.example/a.jpg")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseResponseAcceptsNonObjectSuccess(t *testing.T) {
	t.Parallel()

	hosted, err := parseResponse([]byte(`{"success":true,"image":{"url":"https://iili.io/x.jpg"}}`))
	require.NoError(t, err)
	assert.Equal(t, "https://iili.io/x.jpg", hosted.DirectURL)
	assert.Empty(t, hosted.ThumbURL)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	c := New(Config{APIKey: "k"}, nil)
	assert.Equal(t, DefaultEndpoint, c.endpoint)
	require.NotNil(t, c.http)
	assert.Positive(t, c.http.Timeout)
}
