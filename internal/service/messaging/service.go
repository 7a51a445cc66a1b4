// internal/service/messaging/service.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"tides/internal/domain/docstore"
	"tides/internal/domain/geo"
	"tides/internal/domain/identity"
	"tides/internal/domain/messaging"
	"tides/internal/domain/tide"
)

// Config contains configuration for the messaging service
type Config struct {
	MaxTextLength int
}

// Service implements the messaging.Service interface
type Service struct {
	store  docstore.Store
	config Config
	logger zerolog.Logger
}

// NewService creates a new messaging service
func NewService(store docstore.Store, config Config, logger zerolog.Logger) *Service {
	if config.MaxTextLength <= 0 {
		config.MaxTextLength = messaging.MaxTextLength
	}
	return &Service{
		store:  store,
		config: config,
		logger: logger.With().Str("component", "messaging").Logger(),
	}
}

func (s *Service) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", messaging.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.config.MaxTextLength {
		return "", messaging.ErrMessageTooLong
	}
	return text, nil
}

// PostGeoMessage posts text to the geo-chat. The message carries the
// sender's box so viewers whose location it straddles receive it.
func (s *Service) PostGeoMessage(ctx context.Context, session *identity.Session, at geo.Coordinate, box geo.BoundingBox, text string) (string, error) {
	text, err := s.validateText(text)
	if err != nil {
		return "", err
	}
	if err := at.Validate(); err != nil {
		return "", err
	}
	if !box.Valid() || !box.Contains(at) {
		return "", messaging.ErrInvalidBox
	}

	data := map[string]interface{}{
		"text":      text,
		"byUserId":  session.UserID,
		"sender":    session.Username,
		"timestamp": docstore.ServerTimestamp,
		"adult":     session.Adult,
		"latitude":  at.Latitude,
		"longitude": at.Longitude,
	}
	for k, v := range box.Fields() {
		data[k] = v
	}

	ref, err := s.store.Create(ctx, docstore.Collection(messaging.GeoCollection), data)
	if err != nil {
		return "", fmt.Errorf("error posting geo message: %w", err)
	}

	s.logger.Debug().Str("message_id", ref.ID).Str("user_id", session.UserID).Msg("geo message posted")
	return ref.ID, nil
}

// PostTideMessage posts text to a tide's chat
func (s *Service) PostTideMessage(ctx context.Context, session *identity.Session, tideID, text string) (string, error) {
	text, err := s.validateText(text)
	if err != nil {
		return "", err
	}

	tideRef := docstore.Doc(tide.Collection, tideID)
	doc, err := s.store.Get(ctx, tideRef)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("error loading tide: %w", err)
	}

	t, err := tide.FromDocument(doc)
	if err != nil {
		return "", err
	}
	if !t.IsMember(session.UserID) {
		return "", messaging.ErrNotMember
	}

	ref, err := s.store.Create(ctx, docstore.Subcollection(tideRef, tide.MessagesCollection), map[string]interface{}{
		"text":      text,
		"byUserId":  session.UserID,
		"sender":    session.Username,
		"timestamp": docstore.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("error posting tide message: %w", err)
	}

	s.logger.Debug().Str("message_id", ref.ID).Str("tide_id", tideID).Str("user_id", session.UserID).Msg("tide message posted")
	return ref.ID, nil
}
