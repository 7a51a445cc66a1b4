// internal/service/tide/coordinator.go

package tide

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tides/internal/domain/docstore"
	"tides/internal/domain/tide"
)

// CoordinatorConfig contains configuration for the membership coordinator
type CoordinatorConfig struct {
	EventsTopic     string
	MinParticipants int
	MaxParticipants int
}

// Coordinator implements the tide.Coordinator interface on top of store
// transactions. Every join and leave re-reads the tide inside the
// transaction, so concurrent callers can never push the roster past capacity.
type Coordinator struct {
	store  docstore.Store
	events EventPublisher
	config CoordinatorConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewCoordinator creates a new membership coordinator
func NewCoordinator(store docstore.Store, events EventPublisher, config CoordinatorConfig, logger zerolog.Logger) *Coordinator {
	if events == nil {
		events = NopPublisher{}
	}
	if config.EventsTopic == "" {
		config.EventsTopic = "tides"
	}
	if config.MinParticipants <= 0 {
		config.MinParticipants = tide.MinParticipants
	}
	if config.MaxParticipants <= 0 {
		config.MaxParticipants = tide.MaxParticipants
	}

	return &Coordinator{
		store:  store,
		events: events,
		config: config,
		logger: logger.With().Str("component", "tide_coordinator").Logger(),
		now:    time.Now,
	}
}

// CreateTide inserts a tide with the creator as its only member
func (c *Coordinator) CreateTide(ctx context.Context, req tide.CreateRequest) (string, error) {
	if strings.TrimSpace(req.CreatorID) == "" || strings.TrimSpace(req.CreatorUsername) == "" {
		return "", tide.ErrMissingCredentials
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", tide.ErrInvalidData)
	}
	if req.MaxParticipants < c.config.MinParticipants || req.MaxParticipants > c.config.MaxParticipants {
		return "", fmt.Errorf("%w: max participants must be between %d and %d",
			tide.ErrInvalidData, c.config.MinParticipants, c.config.MaxParticipants)
	}
	if !req.BoundingBox.Valid() {
		return "", fmt.Errorf("%w: invalid bounding box", tide.ErrInvalidData)
	}

	category := req.Category
	if category == "" {
		category = tide.CategoryGeneral
	}
	if !category.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", tide.ErrInvalidData, category)
	}

	data := map[string]interface{}{
		"title":             title,
		"description":       strings.TrimSpace(req.Description),
		"creatorId":         req.CreatorID,
		"creatorUsername":   req.CreatorUsername,
		"participantCount":  1,
		"maxParticipants":   req.MaxParticipants,
		"members":           map[string]interface{}{req.CreatorID: req.CreatorUsername},
		"memberIds":         []string{req.CreatorID},
		"category":          string(category),
		"adult":             req.Adult,
		"active":            true,
		"primedForDeletion": false,
		"createdAt":         docstore.ServerTimestamp,
	}
	for k, v := range req.BoundingBox.Fields() {
		data[k] = v
	}

	ref, err := c.store.Create(ctx, docstore.Collection(tide.Collection), data)
	if err != nil {
		c.logger.Error().Err(err).Str("creator_id", req.CreatorID).Msg("failed to create tide")
		return "", fmt.Errorf("%w: %v", tide.ErrStoreFailure, err)
	}
	if ref.ID == "" {
		return "", tide.ErrIDAssignment
	}

	c.logger.Info().Str("tide_id", ref.ID).Str("creator_id", req.CreatorID).Msg("tide created")
	c.publish(MembershipEvent{
		Event:            EventCreated,
		TideID:           ref.ID,
		UserID:           req.CreatorID,
		ParticipantCount: 1,
		Active:           true,
	})

	return ref.ID, nil
}

// Join adds userID to the roster of tideID
func (c *Coordinator) Join(ctx context.Context, tideID, userID, username string) (tide.JoinResult, error) {
	if tideID == "" {
		return tide.JoinNoSuchTide, nil
	}
	if userID == "" || strings.TrimSpace(username) == "" {
		return tide.JoinFailed, tide.ErrMissingCredentials
	}

	ref := docstore.Doc(tide.Collection, tideID)
	var result tide.JoinResult
	var count int

	err := c.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		result, count = "", 0

		doc, err := tx.Get(ref)
		if errors.Is(err, docstore.ErrNotFound) {
			result = tide.JoinNoSuchTide
			return nil
		}
		if err != nil {
			return err
		}

		t, err := tide.FromDocument(doc)
		if err != nil || t.CheckInvariants() != nil {
			result = tide.JoinInvalidTide
			return nil
		}
		if !t.Active || t.PrimedForDeletion {
			result = tide.JoinNoSuchTide
			return nil
		}
		if t.IsMember(userID) {
			result = tide.JoinAlreadyJoined
			return nil
		}
		if t.Full() {
			result = tide.JoinFull
			return nil
		}

		members := copyMembers(t.Members)
		members[userID] = username
		count = len(members)

		if err := tx.Update(ref, []docstore.Update{
			{Path: docstore.FieldPath("members", userID), Value: username},
			{Path: docstore.FieldPath("memberIds"), Value: memberIDs(members)},
			{Path: docstore.FieldPath("participantCount"), Value: count},
		}); err != nil {
			return err
		}

		result = tide.JoinJoined
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Str("tide_id", tideID).Str("user_id", userID).Msg("join failed")
		return tide.JoinFailed, fmt.Errorf("error joining tide: %w", err)
	}

	if result == tide.JoinJoined {
		c.publish(MembershipEvent{Event: EventJoined, TideID: tideID, UserID: userID, ParticipantCount: count, Active: true})
	}
	return result, nil
}

// Leave removes userID from the roster of tideID. When the last member
// leaves, the tide is deactivated and primed for deletion in the same write.
func (c *Coordinator) Leave(ctx context.Context, tideID, userID string) (tide.LeaveResult, error) {
	if tideID == "" {
		return tide.LeaveNoSuchTide, nil
	}
	if userID == "" {
		return tide.LeaveFailed, tide.ErrMissingCredentials
	}

	ref := docstore.Doc(tide.Collection, tideID)
	var result tide.LeaveResult
	var count int
	var active bool

	err := c.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		result, count, active = "", 0, false

		doc, err := tx.Get(ref)
		if errors.Is(err, docstore.ErrNotFound) {
			result = tide.LeaveNoSuchTide
			return nil
		}
		if err != nil {
			return err
		}

		t, err := tide.FromDocument(doc)
		if err != nil || t.CheckInvariants() != nil {
			result = tide.LeaveInvalidData
			return nil
		}
		if t.PrimedForDeletion {
			result = tide.LeaveNoSuchTide
			return nil
		}
		if !t.IsMember(userID) {
			result = tide.LeaveNotMember
			return nil
		}

		members := copyMembers(t.Members)
		delete(members, userID)
		count = len(members)
		active = t.Active && count > 0

		updates := []docstore.Update{
			{Path: docstore.FieldPath("members", userID), Value: docstore.Delete},
			{Path: docstore.FieldPath("memberIds"), Value: memberIDs(members)},
			{Path: docstore.FieldPath("participantCount"), Value: count},
		}
		if count == 0 {
			updates = append(updates,
				docstore.Update{Path: docstore.FieldPath("active"), Value: false},
				docstore.Update{Path: docstore.FieldPath("primedForDeletion"), Value: true},
			)
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		result = tide.LeaveLeft
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Str("tide_id", tideID).Str("user_id", userID).Msg("leave failed")
		return tide.LeaveFailed, fmt.Errorf("error leaving tide: %w", err)
	}

	if result == tide.LeaveLeft {
		c.publish(MembershipEvent{Event: EventLeft, TideID: tideID, UserID: userID, ParticipantCount: count, Active: active})
	}
	return result, nil
}

func copyMembers(members map[string]string) map[string]string {
	out := make(map[string]string, len(members)+1)
	for k, v := range members {
		out[k] = v
	}
	return out
}

// memberIDs returns the roster keys in a stable order for the indexed mirror
func memberIDs(members map[string]string) []string {
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
