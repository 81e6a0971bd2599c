package httpserver

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/security"
	"pairchat/internal/service"
)

// BearerToken extracts the token from the Authorization header or, for
// browser WebSocket clients, from a "bearer, <token>" subprotocol list.
func BearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authHeader) > len("bearer ") && strings.EqualFold(authHeader[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authHeader[len("bearer "):])
	}

	if protocols := r.Header.Get("Sec-WebSocket-Protocol"); protocols != "" {
		parts := strings.Split(protocols, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return ""
}

// AuthMiddleware verifies the bearer token, provisions the user on first
// sight and attaches the caller to the request context.
func AuthMiddleware(tokens *security.TokenService, users *service.UserService, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := BearerToken(r)
			if tokenStr == "" {
				writeError(w, r, log, domain.ErrUnauthenticated)
				return
			}
			ident, err := tokens.Parse(tokenStr)
			if err != nil {
				log.Debug().Err(err).Msg("rejected bearer token")
				writeError(w, r, log, domain.ErrUnauthenticated)
				return
			}

			user, err := users.Provision(r.Context(), service.ProvisionInput{
				ID:       ident.UserID,
				Email:    ident.Email,
				Username: ident.Username,
			})
			if err != nil {
				writeError(w, r, log, err)
				return
			}

			ctx := domain.WithCaller(r.Context(), domain.Caller{
				UserID:  user.ID,
				Active:  true,
				Profile: user,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
