package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/service"
)

var errInvalidJSON = fmt.Errorf("invalid JSON body: %w", domain.ErrInvalidInput)

type locateRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
}

type locateResponse struct {
	ConversationID string `json:"conversation_id"`
	Created        bool   `json:"created"`
}

// handleLocateConversation resolves the identifier and returns the caller's
// two-party conversation with that user, creating it if needed.
func handleLocateConversation(users *service.UserService, convs *service.ConversationService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req locateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}
		caller := domain.CallerFrom(r.Context())

		peerID, err := users.Resolve(r.Context(), caller, req.Identifier)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		located, err := convs.FindOrCreateDirect(r.Context(), caller.UserID, peerID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		status := http.StatusOK
		if located.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, locateResponse{
			ConversationID: located.Conversation.ID,
			Created:        located.Created,
		})
	}
}

func handleInbox(convs *service.ConversationService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := domain.CallerFrom(r.Context())
		entries, err := convs.Inbox(r.Context(), caller.UserID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type conversationResponse struct {
	ConversationID string       `json:"conversation_id"`
	Peer           *domain.User `json:"peer"`
}

func handleGetConversation(convs *service.ConversationService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := domain.CallerFrom(r.Context())
		id := chi.URLParam(r, "conversationID")
		peer, err := convs.Peer(r.Context(), id, caller.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			// A member without a peer is a broken pair; do not reveal it.
			err = domain.ErrForbidden
		}
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, conversationResponse{ConversationID: id, Peer: peer})
	}
}
