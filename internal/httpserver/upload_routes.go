package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/media"
)

// handleUpload accepts a multipart/form-data request with the image in the
// "file" field.
func handleUpload(uploads *media.Uploader, maxBytes int64, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeError(w, r, log, fmt.Errorf("parse multipart form: %w", domain.ErrInvalidInput))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, log, fmt.Errorf("missing file: %w", domain.ErrInvalidInput))
			return
		}
		defer file.Close()

		caller := domain.CallerFrom(r.Context())
		up, err := uploads.Upload(r.Context(), caller.UserID, file)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, up)
	}
}

func handleGetUpload(uploads *media.Uploader, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		body, contentType, err := uploads.Open(r.Context(), key)
		if errors.Is(err, media.ErrObjectNotFound) {
			writeError(w, r, log, fmt.Errorf("upload %s: %w", key, domain.ErrNotFound))
			return
		}
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		defer body.Close()

		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("upload stream interrupted")
		}
	}
}
