// internal/domain/tide/model.go

package tide

import (
	"fmt"
	"time"

	"tides/internal/domain/docstore"
	"tides/internal/domain/geo"
)

// Collection is the top-level collection holding tides
const Collection = "tides"

// MessagesCollection is the subcollection holding a tide's chat
const MessagesCollection = "messages"

const (
	MinParticipants = 2
	MaxParticipants = 10000
)

// Category tags a tide for discovery
type Category string

const (
	CategoryGeneral   Category = "general"
	CategorySocial    Category = "social"
	CategorySports    Category = "sports"
	CategoryMusic     Category = "music"
	CategoryFood      Category = "food"
	CategoryOutdoors  Category = "outdoors"
	CategoryGaming    Category = "gaming"
	CategoryStudy     Category = "study"
	CategoryNightlife Category = "nightlife"
	CategoryEvents    Category = "events"
)

var categories = map[Category]bool{
	CategoryGeneral:   true,
	CategorySocial:    true,
	CategorySports:    true,
	CategoryMusic:     true,
	CategoryFood:      true,
	CategoryOutdoors:  true,
	CategoryGaming:    true,
	CategoryStudy:     true,
	CategoryNightlife: true,
	CategoryEvents:    true,
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	return categories[c]
}

// Tide is a capacity-bounded, geo-anchored group
type Tide struct {
	ID                string            `json:"id" firestore:"-"`
	Title             string            `json:"title" firestore:"title"`
	Description       string            `json:"description" firestore:"description"`
	CreatorID         string            `json:"creatorId" firestore:"creatorId"`
	CreatorUsername   string            `json:"creatorUsername" firestore:"creatorUsername"`
	ParticipantCount  int               `json:"participantCount" firestore:"participantCount"`
	MaxParticipants   int               `json:"maxParticipants" firestore:"maxParticipants"`
	Members           map[string]string `json:"members" firestore:"members"`
	MemberIDs         []string          `json:"memberIds" firestore:"memberIds"`
	Category          Category          `json:"category" firestore:"category"`
	Adult             bool              `json:"adult" firestore:"adult"`
	LongStart         float64           `json:"longStart" firestore:"longStart"`
	LongEnd           float64           `json:"longEnd" firestore:"longEnd"`
	LatStart          float64           `json:"latStart" firestore:"latStart"`
	LatEnd            float64           `json:"latEnd" firestore:"latEnd"`
	Active            bool              `json:"active" firestore:"active"`
	PrimedForDeletion bool              `json:"primedForDeletion" firestore:"primedForDeletion"`
	CreatedAt         time.Time         `json:"createdAt" firestore:"createdAt"`
}

// FromDocument decodes a stored tide
func FromDocument(doc docstore.Document) (Tide, error) {
	var t Tide
	if err := doc.DataTo(&t); err != nil {
		return Tide{}, fmt.Errorf("error decoding tide %s: %w", doc.ID(), err)
	}
	t.ID = doc.ID()
	return t, nil
}

// BoundingBox returns the discovery region stored on the tide
func (t Tide) BoundingBox() geo.BoundingBox {
	return geo.BoundingBox{
		LongStart: t.LongStart,
		LongEnd:   t.LongEnd,
		LatStart:  t.LatStart,
		LatEnd:    t.LatEnd,
	}
}

// IsMember reports whether userID is on the roster
func (t Tide) IsMember(userID string) bool {
	_, ok := t.Members[userID]
	return ok
}

// Full reports whether no slot remains
func (t Tide) Full() bool {
	return t.ParticipantCount >= t.MaxParticipants
}

// CheckInvariants verifies the roster and counters agree
func (t Tide) CheckInvariants() error {
	if t.ParticipantCount != len(t.Members) {
		return fmt.Errorf("participant count %d does not match %d members", t.ParticipantCount, len(t.Members))
	}
	if t.ParticipantCount > t.MaxParticipants {
		return fmt.Errorf("participant count %d exceeds max %d", t.ParticipantCount, t.MaxParticipants)
	}
	if t.MaxParticipants < MinParticipants || t.MaxParticipants > MaxParticipants {
		return fmt.Errorf("max participants %d out of range", t.MaxParticipants)
	}
	return nil
}

// CreateRequest carries the inputs of a tide creation
type CreateRequest struct {
	CreatorID       string
	CreatorUsername string
	Title           string
	Description     string
	MaxParticipants int
	BoundingBox     geo.BoundingBox
	Adult           bool
	Category        Category
}
