// internal/server/handlers/tide.go

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tides/internal/domain/geo"
	"tides/internal/domain/tide"
)

// TideHandler handles tide creation and membership requests
type TideHandler struct {
	coordinator  tide.Coordinator
	radiusMeters float64
	logger       zerolog.Logger
}

// NewTideHandler creates a new tide handler
func NewTideHandler(coordinator tide.Coordinator, radiusMeters float64, logger zerolog.Logger) *TideHandler {
	return &TideHandler{
		coordinator:  coordinator,
		radiusMeters: radiusMeters,
		logger:       logger,
	}
}

type createTideRequest struct {
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	MaxParticipants int              `json:"maxParticipants"`
	Adult           bool             `json:"adult"`
	Category        tide.Category    `json:"category"`
	Location        *geo.Coordinate  `json:"location,omitempty"`
	BoundingBox     *geo.BoundingBox `json:"boundingBox,omitempty"`
}

// CreateTide creates a tide anchored at the given box, or at the box around
// the given location
func (h *TideHandler) CreateTide(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	var req createTideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var box geo.BoundingBox
	switch {
	case req.BoundingBox != nil:
		box = *req.BoundingBox
	case req.Location != nil:
		if err := req.Location.Validate(); err != nil {
			respondWithError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
			return
		}
		box = geo.ComputeBoundingBox(*req.Location, h.radiusMeters)
	default:
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Missing location", nil)
		return
	}

	id, err := h.coordinator.CreateTide(r.Context(), tide.CreateRequest{
		CreatorID:       session.UserID,
		CreatorUsername: session.Username,
		Title:           req.Title,
		Description:     req.Description,
		MaxParticipants: req.MaxParticipants,
		BoundingBox:     box,
		Adult:           req.Adult,
		Category:        req.Category,
	})
	switch {
	case errors.Is(err, tide.ErrInvalidData):
		respondWithError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	case errors.Is(err, tide.ErrMissingCredentials):
		respondWithError(w, r, h.logger, http.StatusUnauthorized, err.Error(), nil)
		return
	case err != nil:
		respondWithError(w, r, h.logger, http.StatusInternalServerError, "Failed to create tide", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// JoinTide adds the caller to a tide
func (h *TideHandler) JoinTide(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	result, err := h.coordinator.Join(r.Context(), chi.URLParam(r, "id"), session.UserID, session.Username)
	if err != nil {
		respondWithError(w, r, h.logger, http.StatusInternalServerError, "Failed to join tide", err)
		return
	}

	respondWithJSON(w, joinStatus(result), map[string]string{"result": string(result)})
}

// LeaveTide removes the caller from a tide
func (h *TideHandler) LeaveTide(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	result, err := h.coordinator.Leave(r.Context(), chi.URLParam(r, "id"), session.UserID)
	if err != nil {
		respondWithError(w, r, h.logger, http.StatusInternalServerError, "Failed to leave tide", err)
		return
	}

	respondWithJSON(w, leaveStatus(result), map[string]string{"result": string(result)})
}

func joinStatus(result tide.JoinResult) int {
	switch result {
	case tide.JoinJoined, tide.JoinAlreadyJoined:
		return http.StatusOK
	case tide.JoinFull:
		return http.StatusConflict
	case tide.JoinNoSuchTide:
		return http.StatusNotFound
	case tide.JoinInvalidTide:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func leaveStatus(result tide.LeaveResult) int {
	switch result {
	case tide.LeaveLeft, tide.LeaveNotMember:
		return http.StatusOK
	case tide.LeaveNoSuchTide:
		return http.StatusNotFound
	case tide.LeaveInvalidData:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
