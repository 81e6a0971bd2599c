package httpserver

import (
	"net/http"

	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/service"
)

func handleMe(users *service.UserService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := domain.CallerFrom(r.Context())
		profile, err := users.Profile(r.Context(), caller.UserID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

type resolveResponse struct {
	UserID string `json:"user_id"`
}

func handleResolveUser(users *service.UserService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := domain.CallerFrom(r.Context())
		id, err := users.Resolve(r.Context(), caller, r.URL.Query().Get("identifier"))
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, resolveResponse{UserID: id})
	}
}
