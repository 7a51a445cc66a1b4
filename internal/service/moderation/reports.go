// internal/service/moderation/reports.go

package moderation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"tides/internal/domain/docstore"
	"tides/internal/domain/moderation"
)

// ReportStore is the subset of the document store used for reports
type ReportStore interface {
	Create(ctx context.Context, q docstore.Query, data map[string]interface{}) (docstore.Ref, error)
}

// Reporter implements the moderation.Pipeline interface
type Reporter struct {
	store  ReportStore
	logger zerolog.Logger
}

// NewReporter creates a new report pipeline
func NewReporter(store ReportStore, logger zerolog.Logger) *Reporter {
	return &Reporter{
		store:  store,
		logger: logger.With().Str("component", "reporter").Logger(),
	}
}

// SubmitReport validates report and writes it once
func (r *Reporter) SubmitReport(ctx context.Context, report moderation.Report) (moderation.SubmitResult, error) {
	if result := validateReport(&report); result != moderation.SubmitSuccess {
		return result, nil
	}

	data := map[string]interface{}{
		"reportType":          string(report.Type),
		"reportByUserId":      report.ReportByUserID,
		"reportAgainstUserId": report.ReportAgainstUserID,
		"reportContent":       report.Content,
		"reportCategory":      string(report.Category),
		"timestamp":           docstore.ServerTimestamp,
		"isHandled":           false,
	}
	if report.TideID != "" {
		data["groupId"] = report.TideID
	}
	if report.MessageID != "" {
		data["messageId"] = report.MessageID
	}

	ref, err := r.store.Create(ctx, docstore.Collection(moderation.ReportsCollection), data)
	if err != nil {
		r.logger.Error().Err(err).Str("type", string(report.Type)).Msg("failed to store report")
		return moderation.SubmitFailure, fmt.Errorf("error storing report: %w", err)
	}

	r.logger.Info().
		Str("report_id", ref.ID).
		Str("type", string(report.Type)).
		Str("category", string(report.Category)).
		Msg("report submitted")

	return moderation.SubmitSuccess, nil
}

// validateReport trims text fields in place and checks required ids per type
func validateReport(report *moderation.Report) moderation.SubmitResult {
	report.Content = strings.TrimSpace(report.Content)
	report.ReportByUserID = strings.TrimSpace(report.ReportByUserID)
	report.ReportAgainstUserID = strings.TrimSpace(report.ReportAgainstUserID)

	if report.Content == "" || report.ReportByUserID == "" || report.ReportAgainstUserID == "" {
		return moderation.SubmitMissingData
	}
	if report.Category == "" || report.Type == "" {
		return moderation.SubmitMissingData
	}

	switch report.Type {
	case moderation.ReportTide:
		if report.TideID == "" {
			return moderation.SubmitMissingData
		}
	case moderation.ReportTideMessage:
		if report.TideID == "" || report.MessageID == "" {
			return moderation.SubmitMissingData
		}
	case moderation.ReportGeoMessage:
		if report.MessageID == "" {
			return moderation.SubmitMissingData
		}
	default:
		return moderation.SubmitInvalidData
	}

	if !report.Category.Valid() {
		return moderation.SubmitInvalidData
	}
	if utf8.RuneCountInString(report.Content) > moderation.MaxContentLength {
		return moderation.SubmitInvalidData
	}

	return moderation.SubmitSuccess
}
