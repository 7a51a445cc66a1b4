// internal/server/handlers/geo.go

package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"tides/internal/domain/geo"
)

// GeoHandler handles geospatial-related HTTP requests
type GeoHandler struct {
	radiusMeters float64
	logger       zerolog.Logger
}

// NewGeoHandler creates a new geo handler
func NewGeoHandler(radiusMeters float64, logger zerolog.Logger) *GeoHandler {
	if radiusMeters <= 0 {
		radiusMeters = geo.DefaultRadiusMeters
	}
	return &GeoHandler{
		radiusMeters: radiusMeters,
		logger:       logger,
	}
}

// GetBoundingBox returns the discovery region around a location
func (h *GeoHandler) GetBoundingBox(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")

	if latStr == "" || lngStr == "" {
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Missing location parameters", nil)
		return
	}

	// Parse coordinates
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Invalid latitude", err)
		return
	}

	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Invalid longitude", err)
		return
	}

	radius := h.radiusMeters
	if radiusStr := r.URL.Query().Get("radius"); radiusStr != "" {
		radius, err = strconv.ParseFloat(radiusStr, 64)
		if err != nil || radius <= 0 {
			respondWithError(w, r, h.logger, http.StatusBadRequest, "Invalid radius", err)
			return
		}
	}

	location := geo.Coordinate{Latitude: lat, Longitude: lng}
	if err := location.Validate(); err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	respondWithJSON(w, http.StatusOK, geo.ComputeBoundingBox(location, radius))
}
