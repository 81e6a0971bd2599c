package media

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/domain"
)

const owner = "11111111-1111-4111-8111-111111111111"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newTestUploader(t *testing.T, maxBytes int64) *Uploader {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir(), "http://localhost:8000/api/uploads/", zerolog.Nop())
	require.NoError(t, err)
	return NewUploader(store, maxBytes, zerolog.Nop())
}

func TestUploader_StoresImages(t *testing.T) {
	u := newTestUploader(t, 1024)

	up, err := u.Upload(context.Background(), owner, bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", up.ContentType)
	assert.True(t, strings.HasPrefix(up.Key, owner+"/"))
	assert.True(t, strings.HasSuffix(up.Key, ".png"))
	assert.Equal(t, "http://localhost:8000/api/uploads/"+up.Key, up.URL)
	assert.True(t, ValidKey(up.Key))

	rc, ct, err := u.Open(context.Background(), up.Key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, "image/png", ct)
}

func TestUploader_Rejects(t *testing.T) {
	u := newTestUploader(t, 16)

	_, err := u.Upload(context.Background(), owner, strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = u.Upload(context.Background(), owner, bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = u.Upload(context.Background(), owner, strings.NewReader("plain text"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = u.Upload(context.Background(), "", bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestLocalStorage_OpenUnknown(t *testing.T) {
	u := newTestUploader(t, 1024)
	_, _, err := u.Open(context.Background(), owner+"/missing.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, _, err = u.Open(context.Background(), "../etc/passwd.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestValidKey(t *testing.T) {
	for key, want := range map[string]bool{
		owner + "/01hx.png": true,
		owner + "/a/b.png":  false,
		"/abs/x.png":        false,
		"../x.png":          false,
		owner + "/../x.png": false,
		owner + "/noext":    false,
		owner + `\x.png`:    false,
		"":                  false,
		owner + "/./x.png":  false,
	} {
		assert.Equal(t, want, ValidKey(key), key)
	}
}
