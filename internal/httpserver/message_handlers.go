package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/service"
)

type messageCreateRequest struct {
	Body     string `json:"body" validate:"max=5000"`
	MediaURL string `json:"media_url" validate:"omitempty,url"`
	Kind     string `json:"kind" validate:"omitempty,oneof=text image"`
}

func handleCreateMessage(messages *service.MessageService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageCreateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		caller := domain.CallerFrom(r.Context())
		m, err := messages.Create(r.Context(), caller, chi.URLParam(r, "conversationID"), domain.Draft{
			Body:     req.Body,
			MediaURL: req.MediaURL,
			Kind:     domain.MessageKind(req.Kind),
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func handleListMessages(messages *service.MessageService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := domain.CallerFrom(r.Context())
		msgs, err := messages.List(r.Context(), caller, chi.URLParam(r, "conversationID"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
