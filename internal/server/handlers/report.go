// internal/server/handlers/report.go

package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"tides/internal/domain/moderation"
)

// ReportHandler accepts moderation reports
type ReportHandler struct {
	pipeline moderation.Pipeline
	logger   zerolog.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(pipeline moderation.Pipeline, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

// SubmitReport files a report on behalf of the caller
func (h *ReportHandler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	session := mustSession(r)

	var report moderation.Report
	if err := decodeJSON(r, &report); err != nil {
		respondWithError(w, r, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	report.ReportByUserID = session.UserID

	result, err := h.pipeline.SubmitReport(r.Context(), report)
	if err != nil {
		respondWithError(w, r, h.logger, http.StatusInternalServerError, "Failed to submit report", err)
		return
	}

	code := http.StatusCreated
	switch result {
	case moderation.SubmitMissingData, moderation.SubmitInvalidData:
		code = http.StatusBadRequest
	case moderation.SubmitFailure:
		code = http.StatusInternalServerError
	}
	respondWithJSON(w, code, map[string]string{"result": string(result)})
}
