package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pairchat/internal/config"
	"pairchat/internal/media"
	"pairchat/internal/security"
	"pairchat/internal/service"
)

var validate = validator.New()

// Deps are the services the HTTP surface is built from.
type Deps struct {
	Config        *config.Config
	Log           zerolog.Logger
	Tokens        *security.TokenService
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Uploads       *media.Uploader
	// Live serves the per-conversation WebSocket feed; nil disables /ws.
	Live http.Handler
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	log := d.Log.With().Str("component", "http").Logger()
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(MetricsRecorder)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	auth := AuthMiddleware(d.Tokens, d.Users, log)

	r.Route("/api", func(r chi.Router) {
		// Object keys are unguessable; images are fetched by <img> tags
		// that cannot carry a bearer token.
		if d.Uploads != nil {
			r.Get("/uploads/*", handleGetUpload(d.Uploads, log))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(auth)

			r.Get("/me", handleMe(d.Users, log))
			r.Get("/users/resolve", handleResolveUser(d.Users, log))

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleLocateConversation(d.Users, d.Conversations, log))
				r.Get("/", handleInbox(d.Conversations, log))
				r.Get("/{conversationID}", handleGetConversation(d.Conversations, log))
				r.Get("/{conversationID}/messages", handleListMessages(d.Messages, log))
				r.Post("/{conversationID}/messages", handleCreateMessage(d.Messages, log))
			})

			if d.Uploads != nil {
				r.Post("/uploads", handleUpload(d.Uploads, d.Config.MediaMaxBytes, log))
			}
		})
	})

	if d.Live != nil {
		r.With(auth).Get("/ws", d.Live.ServeHTTP)
	}

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// decodeJSON decodes and validates a request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errInvalidJSON
	}
	return validate.Struct(v)
}
