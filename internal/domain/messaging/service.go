// internal/domain/messaging/service.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tides/internal/domain/docstore"
	"tides/internal/domain/geo"
	"tides/internal/domain/identity"
)

// GeoCollection is the flat collection holding geo-chat messages
const GeoCollection = "geoMessages"

// MaxTextLength is the longest message text accepted, in characters
const MaxTextLength = 250

var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrMessageTooLong = errors.New("message text too long")
	ErrNotMember      = errors.New("sender is not a member of the tide")
	ErrInvalidBox     = errors.New("invalid bounding box")
)

// Message is a single chat line, geo-scoped or tide-scoped. Sender is the
// display name at send time and is never re-resolved.
type Message struct {
	ID        string    `json:"id" firestore:"-"`
	Text      string    `json:"text" firestore:"text"`
	ByUserID  string    `json:"byUserId" firestore:"byUserId"`
	Sender    string    `json:"sender" firestore:"sender"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
	Adult     bool      `json:"adult,omitempty" firestore:"adult"`
	Latitude  float64   `json:"latitude,omitempty" firestore:"latitude"`
	Longitude float64   `json:"longitude,omitempty" firestore:"longitude"`
	LongStart float64   `json:"longStart,omitempty" firestore:"longStart"`
	LongEnd   float64   `json:"longEnd,omitempty" firestore:"longEnd"`
	LatStart  float64   `json:"latStart,omitempty" firestore:"latStart"`
	LatEnd    float64   `json:"latEnd,omitempty" firestore:"latEnd"`
}

// FromDocument decodes a stored message
func FromDocument(doc docstore.Document) (Message, error) {
	var m Message
	if err := doc.DataTo(&m); err != nil {
		return Message{}, fmt.Errorf("error decoding message %s: %w", doc.ID(), err)
	}
	m.ID = doc.ID()
	return m, nil
}

// Service posts messages. Messages are immutable once created.
type Service interface {
	// PostGeoMessage posts to the geo-chat around the sender's current box
	PostGeoMessage(ctx context.Context, session *identity.Session, at geo.Coordinate, box geo.BoundingBox, text string) (string, error)

	// PostTideMessage posts to a tide's chat; the sender must be a member
	PostTideMessage(ctx context.Context, session *identity.Session, tideID, text string) (string, error)
}
