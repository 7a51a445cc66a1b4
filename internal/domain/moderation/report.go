// internal/domain/moderation/report.go

package moderation

import (
	"context"
)

// ReportsCollection is the top-level collection holding reports
const ReportsCollection = "reports"

// MaxContentLength is the longest report content accepted, in characters
const MaxContentLength = 700

// ReportType identifies what a report targets
type ReportType string

const (
	ReportTide        ReportType = "group"
	ReportTideMessage ReportType = "group-message"
	ReportGeoMessage  ReportType = "geo-message"
)

// Valid reports whether t is a known report type
func (t ReportType) Valid() bool {
	switch t {
	case ReportTide, ReportTideMessage, ReportGeoMessage:
		return true
	}
	return false
}

// Category is the closed set of report reasons
type Category string

const (
	CategorySpam          Category = "spam"
	CategoryHarassment    Category = "harassment"
	CategoryHateSpeech    Category = "hateSpeech"
	CategorySexualContent Category = "sexualContent"
	CategoryViolence      Category = "violence"
	CategorySelfHarm      Category = "selfHarm"
	CategoryImpersonation Category = "impersonation"
	CategoryOther         Category = "other"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategorySpam, CategoryHarassment, CategoryHateSpeech, CategorySexualContent,
		CategoryViolence, CategorySelfHarm, CategoryImpersonation, CategoryOther:
		return true
	}
	return false
}

// Report is a write-once moderation report
type Report struct {
	Type                ReportType `json:"reportType"`
	TideID              string     `json:"groupId,omitempty"`
	MessageID           string     `json:"messageId,omitempty"`
	ReportByUserID      string     `json:"reportByUserId"`
	ReportAgainstUserID string     `json:"reportAgainstUserId"`
	Content             string     `json:"reportContent"`
	Category            Category   `json:"reportCategory"`
}

// SubmitResult is the outcome of a report submission
type SubmitResult string

const (
	SubmitSuccess     SubmitResult = "success"
	SubmitMissingData SubmitResult = "missingData"
	SubmitInvalidData SubmitResult = "invalidData"
	SubmitFailure     SubmitResult = "failure"
)

// Pipeline validates and persists reports
type Pipeline interface {
	SubmitReport(ctx context.Context, report Report) (SubmitResult, error)
}
