// internal/server/handlers/message.go

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tides/internal/domain/docstore"
	"tides/internal/domain/geo"
	"tides/internal/domain/messaging"
)

// MessageHandler handles chat posting requests
type MessageHandler struct {
	messages     messaging.Service
	radiusMeters float64
	logger       zerolog.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(messages messaging.Service, radiusMeters float64, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		messages:     messages,
		radiusMeters: radiusMeters,
		logger:       logger,
	}
}

type postMessageRequest struct {
	Text      string  `json:"text"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PostTideMessage posts to a tide's chat
func (h *MessageHandler) PostTideMessage(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.messages.PostTideMessage(r.Context(), session, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.respondPostError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// PostGeoMessage posts to the geo-chat around the sender's location
func (h *MessageHandler) PostGeoMessage(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	at := geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := at.Validate(); err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	id, err := h.messages.PostGeoMessage(r.Context(), session, at, geo.ComputeBoundingBox(at, h.radiusMeters), req.Text)
	if err != nil {
		h.respondPostError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *MessageHandler) respondPostError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, messaging.ErrEmptyMessage), errors.Is(err, messaging.ErrMessageTooLong),
		errors.Is(err, messaging.ErrInvalidBox):
		respondWithError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, messaging.ErrNotMember):
		respondWithError(w, r, h.logger, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, docstore.ErrNotFound):
		respondWithError(w, r, h.logger, http.StatusNotFound, "Tide not found", nil)
	default:
		respondWithError(w, r, h.logger, http.StatusInternalServerError, "Failed to post message", err)
	}
}
