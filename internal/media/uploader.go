package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/metrics"
)

var allowedMIMEs = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
}

// Upload describes a stored object.
type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Uploader accepts image uploads and stores them under <userID>/<ulid><ext>.
type Uploader struct {
	storage  Storage
	maxBytes int64
	log      zerolog.Logger
}

func NewUploader(storage Storage, maxBytes int64, log zerolog.Logger) *Uploader {
	return &Uploader{
		storage:  storage,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "uploader").Logger(),
	}
}

// Upload reads body, checks that it is an image within the size limit and
// stores it on behalf of userID.
func (u *Uploader) Upload(ctx context.Context, userID string, body io.Reader) (*Upload, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUnauthenticated
	}
	data, err := io.ReadAll(io.LimitReader(body, u.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		metrics.RecordUpload("unknown", "rejected", 0)
		return nil, fmt.Errorf("file is empty: %w", domain.ErrInvalidInput)
	}
	if int64(len(data)) > u.maxBytes {
		metrics.RecordUpload("unknown", "rejected", 0)
		return nil, fmt.Errorf("file exceeds %d bytes: %w", u.maxBytes, domain.ErrInvalidInput)
	}

	mimeType := mimetype.Detect(data).String()
	ext, ok := allowedMIMEs[mimeType]
	if !ok {
		metrics.RecordUpload(mimeType, "rejected", 0)
		return nil, fmt.Errorf("unsupported media type %s: %w", mimeType, domain.ErrInvalidInput)
	}

	key := userID + "/" + strings.ToLower(ulid.Make().String()) + ext
	size := int64(len(data))
	url, err := u.storage.Put(ctx, key, bytes.NewReader(data), size, mimeType)
	if err != nil {
		metrics.RecordUpload(mimeType, "error", 0)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	metrics.RecordUpload(mimeType, "success", size)
	u.log.Debug().Str("key", key).Int64("size", size).Msg("stored upload")
	return &Upload{Key: key, URL: url, ContentType: mimeType, Size: size}, nil
}

// Open streams a stored object.
func (u *Uploader) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return u.storage.Open(ctx, key)
}
