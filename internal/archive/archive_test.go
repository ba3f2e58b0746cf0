package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingStore struct {
	paths []string
	err   error
}

func (s *recordingStore) PutObject(_ context.Context, path string, contentType string, _ []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.paths = append(s.paths, path+"|"+contentType)
	return "mem://" + path, nil
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	a := ObjectPath("products", "https://shop.test/katalog/tovar/10452/")
	b := ObjectPath("products", "https://shop.test/katalog/tovar/10452/?utm=1")
	assert.Regexp(t, `^products/shop\.test/katalog_tovar_10452_[0-9a-f]{16}\.html$`, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ObjectPath("products", "https://shop.test/katalog/tovar/10452/"))
	assert.Regexp(t, `^shop\.test/root_[0-9a-f]{16}\.html$`, ObjectPath("", "https://shop.test/"))
}

func TestSave(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	a := New(store, "/products/", nil)
	uri := a.Save(context.Background(), "https://shop.test/p/1", []byte("<html></html>"))
	assert.Contains(t, uri, "mem://products/shop.test/p_1_")
	assert.Len(t, store.paths, 1)
	assert.Contains(t, store.paths[0], "|text/html; charset=utf-8")

	assert.Empty(t, a.Save(context.Background(), "https://shop.test/p/2", nil))
	assert.Len(t, store.paths, 1)
}

func TestSaveFailureAndNil(t *testing.T) {
	t.Parallel()

	a := New(&recordingStore{err: errors.New("bucket missing")}, "", nil)
	assert.Empty(t, a.Save(context.Background(), "https://shop.test/p/1", []byte("x")))

	var none *Archiver
	assert.Nil(t, New(nil, "", nil))
	assert.Empty(t, none.Save(context.Background(), "https://shop.test/p/1", []byte("x")))
}
