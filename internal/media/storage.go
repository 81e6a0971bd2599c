package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"pairchat/internal/config"
)

// ErrObjectNotFound is returned by Open for unknown keys.
var ErrObjectNotFound = errors.New("media object not found")

// Storage persists uploaded objects. Put returns the public URL of the
// stored object; the message store keeps only that URL.
type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// NewStorage builds the backend selected by MEDIA_BACKEND.
func NewStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Storage, error) {
	switch cfg.MediaBackend {
	case "s3":
		return NewS3Storage(ctx, cfg, log)
	default:
		return NewLocalStorage(cfg.MediaLocalPath, cfg.MediaPublicBaseURL, log)
	}
}

// LocalStorage keeps objects under a directory on disk.
type LocalStorage struct {
	root    string
	baseURL string
	log     zerolog.Logger
}

func NewLocalStorage(root, baseURL string, log zerolog.Logger) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("component", "local-storage").Logger(),
	}, nil
}

func (s *LocalStorage) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("invalid media key %q", key)
	}
	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close media file: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

func (s *LocalStorage) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	if !ValidKey(key) {
		return nil, "", ErrObjectNotFound
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	mt, err := mimetype.DetectFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrObjectNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("detect media type: %w", err)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, "", fmt.Errorf("open media file: %w", err)
	}
	return f, mt.String(), nil
}

// ValidKey accepts keys of the form <owner>/<name>.<ext> with no path
// traversal.
func ValidKey(key string) bool {
	if key == "" || strings.Contains(key, "\\") || strings.HasPrefix(key, "/") {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	owner, name, ok := strings.Cut(key, "/")
	if !ok || owner == "" || owner == "." || owner == ".." || name == "" {
		return false
	}
	return !strings.Contains(name, "/") && path.Ext(name) != ""
}
