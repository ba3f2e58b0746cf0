package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-sync/internal/catalog"
	"github.com/JakeFAU/catalog-sync/internal/hash/sha256"
	"github.com/JakeFAU/catalog-sync/internal/retry"
)

type memImages struct {
	mu     sync.Mutex
	byHash map[string]catalog.ImageRecord
	saves  int
}

func newMemImages() *memImages {
	return &memImages{byHash: make(map[string]catalog.ImageRecord)}
}

func (m *memImages) GetImage(_ context.Context, hash string) (catalog.ImageRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byHash[hash]
	return rec, ok, nil
}

func (m *memImages) GetImageByOriginalURL(_ context.Context, originalURL string) (catalog.ImageRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byHash {
		if rec.OriginalURL == originalURL {
			return rec, true, nil
		}
	}
	return catalog.ImageRecord{}, false, nil
}

func (m *memImages) SaveImage(_ context.Context, rec catalog.ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHash[rec.ContentHash] = rec
	m.saves++
	return nil
}

type fakeHoster struct {
	urlErr      error
	binaryErr   error
	urlCalls    int
	binaryCalls int
	hosted      Hosted
}

func (f *fakeHoster) UploadURL(context.Context, string) (Hosted, error) {
	f.urlCalls++
	if f.urlErr != nil {
		return Hosted{}, f.urlErr
	}
	return f.hosted, nil
}

func (f *fakeHoster) UploadBytes(context.Context, []byte, string) (Hosted, error) {
	f.binaryCalls++
	if f.binaryErr != nil {
		return Hosted{}, f.binaryErr
	}
	return f.hosted, nil
}

type fakeDownloader struct {
	bodies map[string][]byte
	calls  []string
}

func (f *fakeDownloader) Download(_ context.Context, rawURL string) ([]byte, error) {
	f.calls = append(f.calls, rawURL)
	if body, ok := f.bodies[rawURL]; ok {
		return body, nil
	}
	return nil, errors.New("404")
}

var hostedTriple = Hosted{
	DirectURL: "https://iili.io/direct.jpg",
	ViewerURL: "https://freeimage.host/i/direct",
	ThumbURL:  "https://iili.io/direct.th.jpg",
}

func newTestUploader(t *testing.T, enabled bool, hoster *fakeHoster, dl *fakeDownloader, images *memImages) *Uploader {
	t.Helper()
	u, err := NewUploader(Options{
		Enabled:    enabled,
		Hoster:     hoster,
		Downloader: dl,
		Images:     images,
		Hasher:     sha256.New(),
		Retry:      retry.NewPolicy(3, time.Microsecond, time.Microsecond),
	})
	require.NoError(t, err)
	return u
}

func TestEnsureImageDisabledMakesNoCalls(t *testing.T) {
	t.Parallel()

	hoster := &fakeHoster{hosted: hostedTriple}
	dl := &fakeDownloader{}
	images := newMemImages()
	u := newTestUploader(t, false, hoster, dl, images)

	res, err := u.EnsureImage(context.Background(), "https://shop.example/upload/a.jpg")
	require.NoError(t, err)
	assert.Empty(t, res.DirectURL)
	assert.Empty(t, res.ContentHash)
	assert.False(t, res.Uploaded)
	assert.Zero(t, hoster.urlCalls+hoster.binaryCalls)
	assert.Empty(t, dl.calls)
	assert.Zero(t, images.saves)
}

func TestEnsureImageRejectsUnsupportedURLs(t *testing.T) {
	t.Parallel()

	for _, src := range []string{"", "ftp://shop.example/a.jpg", "/upload/a.jpg", "data:image/png;base64,AAAA"} {
		hoster := &fakeHoster{hosted: hostedTriple}
		dl := &fakeDownloader{}
		u := newTestUploader(t, true, hoster, dl, newMemImages())

		res, err := u.EnsureImage(context.Background(), src)
		require.NoError(t, err, src)
		assert.Empty(t, res.DirectURL, src)
		assert.Zero(t, hoster.urlCalls+hoster.binaryCalls, src)
		assert.Empty(t, dl.calls, src)
	}
}

func TestEnsureImageCachedByOriginalURL(t *testing.T) {
	t.Parallel()

	images := newMemImages()
	require.NoError(t, images.SaveImage(context.Background(), catalog.ImageRecord{
		ContentHash: "h1", DirectURL: "https://img/1", ViewerURL: "https://view/1", ThumbURL: "https://thumb/1",
		OriginalURL: "https://shop.example/upload/a.jpg",
	}))
	hoster := &fakeHoster{hosted: hostedTriple}
	dl := &fakeDownloader{}
	u := newTestUploader(t, true, hoster, dl, images)

	res, err := u.EnsureImage(context.Background(), "https://shop.example/upload/a.jpg")
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.False(t, res.Uploaded)
	assert.Equal(t, "h1", res.ContentHash)
	assert.Equal(t, "https://thumb/1", res.ThumbURL)
	assert.Zero(t, hoster.urlCalls+hoster.binaryCalls)
	assert.Empty(t, dl.calls)
}

func TestEnsureImageRemoteURLUploadHashesHostedCopy(t *testing.T) {
	t.Parallel()

	body := []byte("jpeg-bytes")
	hoster := &fakeHoster{hosted: hostedTriple}
	dl := &fakeDownloader{bodies: map[string][]byte{hostedTriple.DirectURL: body}}
	images := newMemImages()
	u := newTestUploader(t, true, hoster, dl, images)

	res, err := u.EnsureImage(context.Background(), "https://shop.example/upload/a.jpg")
	require.NoError(t, err)
	assert.True(t, res.Uploaded)
	assert.False(t, res.Cached)
	assert.Equal(t, hostedTriple.DirectURL, res.DirectURL)
	assert.Equal(t, sha256.Sum(body), res.ContentHash)
	assert.Equal(t, 1, hoster.urlCalls)
	assert.Zero(t, hoster.binaryCalls)
	assert.Equal(t, []string{hostedTriple.DirectURL}, dl.calls)

	saved, ok, err := images.GetImage(context.Background(), res.ContentHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://shop.example/upload/a.jpg", saved.OriginalURL)
}

func TestEnsureImageRemoteURLUploadWithoutHash(t *testing.T) {
	t.Parallel()

	hoster := &fakeHoster{hosted: hostedTriple}
	dl := &fakeDownloader{}
	images := newMemImages()
	u := newTestUploader(t, true, hoster, dl, images)

	src := "https://shop.example/upload/a.jpg"
	res, err := u.EnsureImage(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, hostedTriple.DirectURL, res.DirectURL)
	assert.Empty(t, res.ContentHash)
	assert.Equal(t, []string{hostedTriple.DirectURL, src}, dl.calls, "hosted copy first, then the source")
	assert.Zero(t, images.saves)
}

func TestEnsureImageDedupByContentHash(t *testing.T) {
	t.Parallel()

	body := []byte("same-bytes")
	first := "https://shop.example/upload/a.jpg"
	second := "https://shop.example/upload/copy-of-a.jpg"

	hoster := &fakeHoster{urlErr: errors.New("remote fetch refused"), hosted: hostedTriple}
	dl := &fakeDownloader{bodies: map[string][]byte{first: body, second: body}}
	images := newMemImages()
	u := newTestUploader(t, true, hoster, dl, images)

	res1, err := u.EnsureImage(context.Background(), first)
	require.NoError(t, err)
	assert.True(t, res1.Uploaded)
	assert.Equal(t, 1, hoster.binaryCalls)

	res2, err := u.EnsureImage(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, res2.Cached)
	assert.False(t, res2.Uploaded)
	assert.Equal(t, res1.ContentHash, res2.ContentHash)
	assert.Equal(t, res1.DirectURL, res2.DirectURL)
	assert.Equal(t, 1, hoster.binaryCalls, "identical bytes are uploaded once")

	rec, ok, err := images.GetImageByOriginalURL(context.Background(), second)
	require.NoError(t, err)
	require.True(t, ok, "the new original url is associated with the existing hash")
	assert.Equal(t, res1.ContentHash, rec.ContentHash)
}

func TestEnsureImageDownloadFailureIsEmptyResult(t *testing.T) {
	t.Parallel()

	hoster := &fakeHoster{urlErr: errors.New("remote fetch refused")}
	dl := &fakeDownloader{}
	u := newTestUploader(t, true, hoster, dl, newMemImages())

	res, err := u.EnsureImage(context.Background(), "https://shop.example/upload/a.jpg")
	require.NoError(t, err)
	assert.Empty(t, res.DirectURL)
	assert.Empty(t, res.ContentHash)
	assert.Equal(t, 4, hoster.urlCalls, "one attempt plus three retries")
	assert.Zero(t, hoster.binaryCalls)
}

func TestEnsureImageBinaryUploadExhausted(t *testing.T) {
	t.Parallel()

	src := "https://shop.example/upload/a.jpg"
	boom := errors.New("status 500")
	hoster := &fakeHoster{urlErr: boom, binaryErr: boom}
	dl := &fakeDownloader{bodies: map[string][]byte{src: []byte("bytes")}}
	images := newMemImages()
	u := newTestUploader(t, true, hoster, dl, images)

	res, err := u.EnsureImage(context.Background(), src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, hoster.binaryCalls)
	assert.Empty(t, res.DirectURL)
	assert.Zero(t, images.saves)
}

func TestEnsureImageCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hoster := &fakeHoster{hosted: hostedTriple}
	dl := &fakeDownloader{}
	u := newTestUploader(t, true, hoster, dl, newMemImages())

	_, err := u.EnsureImage(ctx, "https://shop.example/upload/a.jpg")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dl.calls)
}

func TestNewUploaderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewUploader(Options{Hasher: sha256.New()})
	require.Error(t, err)
	_, err = NewUploader(Options{Images: newMemImages()})
	require.Error(t, err)
	_, err = NewUploader(Options{Enabled: true, Images: newMemImages(), Hasher: sha256.New()})
	require.Error(t, err)
	_, err = NewUploader(Options{Images: newMemImages(), Hasher: sha256.New()})
	require.NoError(t, err)
}

func TestFilenameFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a.jpg", filenameFor("https://shop.example/upload/a.jpg?x=1"))
	assert.Equal(t, "image.jpg", filenameFor("https://shop.example/"))
	assert.Equal(t, "image.jpg", filenameFor("https://shop.example/resize/abc"))
}
