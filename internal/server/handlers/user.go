// internal/server/handlers/user.go

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tides/internal/domain/identity"
)

// BlockWatcher is told when a user's block list changed so live feeds
// can be re-issued
type BlockWatcher interface {
	BlocksChanged(ctx context.Context, userID string)
}

// UserHandler handles block list requests
type UserHandler struct {
	users   identity.Service
	watcher BlockWatcher
	logger  zerolog.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(users identity.Service, watcher BlockWatcher, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		users:   users,
		watcher: watcher,
		logger:  logger,
	}
}

type blockRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Block adds a user to the caller's block list
func (h *UserHandler) Block(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	var req blockRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.users.Block(r.Context(), session, req.UserID, req.Username)
	switch {
	case errors.Is(err, identity.ErrSelfBlock), errors.Is(err, identity.ErrUnknownUser):
		respondWithError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	case err != nil:
		respondWithError(w, r, h.logger, http.StatusInternalServerError, "Failed to block user", err)
		return
	}

	// Both sides' feeds filter on this pair
	h.notify(r.Context(), session.UserID)
	h.notify(r.Context(), req.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// Unblock removes a user from the caller's block list
func (h *UserHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	targetID := chi.URLParam(r, "id")
	if err := h.users.Unblock(r.Context(), session, targetID); err != nil {
		respondWithError(w, r, h.logger, http.StatusInternalServerError, "Failed to unblock user", err)
		return
	}

	h.notify(r.Context(), session.UserID)
	h.notify(r.Context(), targetID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) notify(ctx context.Context, userID string) {
	if h.watcher != nil {
		h.watcher.BlocksChanged(ctx, userID)
	}
}
