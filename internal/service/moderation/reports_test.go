package moderation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tides/internal/adapter/storage"
	"tides/internal/domain/docstore"
	"tides/internal/domain/moderation"
)

type failingStore struct{}

func (failingStore) Create(ctx context.Context, q docstore.Query, data map[string]interface{}) (docstore.Ref, error) {
	return docstore.Ref{}, errors.New("unavailable")
}

func validReport() moderation.Report {
	return moderation.Report{
		Type:                moderation.ReportTideMessage,
		TideID:              "t1",
		MessageID:           "m1",
		ReportByUserID:      "u1",
		ReportAgainstUserID: "u2",
		Content:             "spamming the chat",
		Category:            moderation.CategorySpam,
	}
}

func TestSubmitReportPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reporter := NewReporter(store, zerolog.Nop())

	result, err := reporter.SubmitReport(ctx, validReport())
	require.NoError(t, err)
	assert.Equal(t, moderation.SubmitSuccess, result)

	docs, err := store.Query(ctx, docstore.Collection(moderation.ReportsCollection))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	handled, ok := docs[0].Field("isHandled")
	require.True(t, ok)
	assert.Equal(t, false, handled)
	ts, ok := docs[0].Field("timestamp")
	require.True(t, ok)
	assert.NotEmpty(t, ts)
	groupID, _ := docs[0].Field("groupId")
	assert.Equal(t, "t1", groupID)
}

func TestSubmitReportValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *moderation.Report)
		want   moderation.SubmitResult
	}{
		{"group message without group", func(r *moderation.Report) { r.TideID = "" }, moderation.SubmitMissingData},
		{"group message without message", func(r *moderation.Report) { r.MessageID = "" }, moderation.SubmitMissingData},
		{"group without group", func(r *moderation.Report) { r.Type = moderation.ReportTide; r.TideID = "" }, moderation.SubmitMissingData},
		{"geo message without message", func(r *moderation.Report) { r.Type = moderation.ReportGeoMessage; r.MessageID = "" }, moderation.SubmitMissingData},
		{"blank content", func(r *moderation.Report) { r.Content = "   " }, moderation.SubmitMissingData},
		{"missing reporter", func(r *moderation.Report) { r.ReportByUserID = "" }, moderation.SubmitMissingData},
		{"missing target", func(r *moderation.Report) { r.ReportAgainstUserID = "" }, moderation.SubmitMissingData},
		{"unknown type", func(r *moderation.Report) { r.Type = "user" }, moderation.SubmitInvalidData},
		{"unknown category", func(r *moderation.Report) { r.Category = "rude" }, moderation.SubmitInvalidData},
		{"content too long", func(r *moderation.Report) { r.Content = strings.Repeat("x", moderation.MaxContentLength+1) }, moderation.SubmitInvalidData},
		{"content at limit", func(r *moderation.Report) { r.Content = strings.Repeat("é", moderation.MaxContentLength) }, moderation.SubmitSuccess},
		{"geo message", func(r *moderation.Report) { r.Type = moderation.ReportGeoMessage; r.TideID = "" }, moderation.SubmitSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			reporter := NewReporter(store, zerolog.Nop())

			report := validReport()
			tt.modify(&report)

			result, err := reporter.SubmitReport(context.Background(), report)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)

			docs, err := store.Query(context.Background(), docstore.Collection(moderation.ReportsCollection))
			require.NoError(t, err)
			if tt.want == moderation.SubmitSuccess {
				assert.Len(t, docs, 1)
			} else {
				assert.Empty(t, docs)
			}
		})
	}
}

func TestSubmitReportStoreFailure(t *testing.T) {
	reporter := NewReporter(failingStore{}, zerolog.Nop())

	result, err := reporter.SubmitReport(context.Background(), validReport())
	assert.Error(t, err)
	assert.Equal(t, moderation.SubmitFailure, result)
}
