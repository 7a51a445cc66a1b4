// internal/service/identity/service.go

package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"tides/internal/domain/docstore"
	"tides/internal/domain/identity"
)

// Service implements the identity.Service interface over the users collection
type Service struct {
	store  docstore.Store
	logger zerolog.Logger
}

// NewService creates a new identity service
func NewService(store docstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

func userRef(userID string) docstore.Ref {
	return docstore.Doc(identity.UsersCollection, userID)
}

func decodeUser(doc docstore.Document) (identity.User, error) {
	var u identity.User
	if err := doc.DataTo(&u); err != nil {
		return identity.User{}, fmt.Errorf("error decoding user %s: %w", doc.ID(), err)
	}
	u.ID = doc.ID()
	return u, nil
}

// Session loads the caller's profile and both block sets
func (s *Service) Session(ctx context.Context, userID string) (*identity.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, identity.ErrUnknownUser
	}

	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Banned {
		return nil, identity.ErrBanned
	}

	blockedBy, err := s.blockedBy(ctx, userID)
	if err != nil {
		return nil, err
	}

	return identity.NewSession(user.ID, user.Username, user.Adult, blockedSet(user), blockedBy), nil
}

// Refresh reloads both block sets of session
func (s *Service) Refresh(ctx context.Context, session *identity.Session) error {
	user, err := s.user(ctx, session.UserID)
	if err != nil {
		return err
	}

	blockedBy, err := s.blockedBy(ctx, session.UserID)
	if err != nil {
		return err
	}

	session.SetBlocks(blockedSet(user), blockedBy)
	return nil
}

// Block adds targetID to the caller's block list
func (s *Service) Block(ctx context.Context, session *identity.Session, targetID, targetUsername string) error {
	if targetID == "" {
		return fmt.Errorf("%w: empty target", identity.ErrUnknownUser)
	}
	if targetID == session.UserID {
		return identity.ErrSelfBlock
	}

	err := s.updateBlocks(ctx, session.UserID, func(blocked map[string]string) []docstore.Update {
		blocked[targetID] = targetUsername
		return []docstore.Update{{Path: docstore.FieldPath("blockedUsers", targetID), Value: targetUsername}}
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", session.UserID).Str("target_id", targetID).Msg("user blocked")
	return s.Refresh(ctx, session)
}

// Unblock removes targetID from the caller's block list
func (s *Service) Unblock(ctx context.Context, session *identity.Session, targetID string) error {
	err := s.updateBlocks(ctx, session.UserID, func(blocked map[string]string) []docstore.Update {
		delete(blocked, targetID)
		return []docstore.Update{{Path: docstore.FieldPath("blockedUsers", targetID), Value: docstore.Delete}}
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", session.UserID).Str("target_id", targetID).Msg("user unblocked")
	return s.Refresh(ctx, session)
}

// updateBlocks applies mutate to the stored block map and rewrites the
// blockedUserIds mirror in the same transaction
func (s *Service) updateBlocks(ctx context.Context, userID string, mutate func(blocked map[string]string) []docstore.Update) error {
	ref := userRef(userID)

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		user, err := decodeUser(doc)
		if err != nil {
			return err
		}

		blocked := make(map[string]string, len(user.BlockedUsers)+1)
		for k, v := range user.BlockedUsers {
			blocked[k] = v
		}
		updates := mutate(blocked)

		ids := make([]string, 0, len(blocked))
		for id := range blocked {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		updates = append(updates, docstore.Update{Path: docstore.FieldPath("blockedUserIds"), Value: ids})

		return tx.Update(ref, updates)
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return identity.ErrUnknownUser
	}
	if err != nil {
		return fmt.Errorf("error updating block list: %w", err)
	}
	return nil
}

func (s *Service) user(ctx context.Context, userID string) (identity.User, error) {
	doc, err := s.store.Get(ctx, userRef(userID))
	if errors.Is(err, docstore.ErrNotFound) {
		return identity.User{}, identity.ErrUnknownUser
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("error loading user: %w", err)
	}
	return decodeUser(doc)
}

// blockedBy finds every user whose block list contains userID
func (s *Service) blockedBy(ctx context.Context, userID string) (identity.UserSet, error) {
	docs, err := s.store.Query(ctx, docstore.Collection(identity.UsersCollection).
		Where("blockedUserIds", docstore.OpArrayContains, userID))
	if err != nil {
		return nil, fmt.Errorf("error loading blocking users: %w", err)
	}

	set := identity.UserSet{}
	for _, doc := range docs {
		set[doc.ID()] = struct{}{}
	}
	return set, nil
}

func blockedSet(user identity.User) identity.UserSet {
	set := identity.UserSet{}
	for id := range user.BlockedUsers {
		set[id] = struct{}{}
	}
	return set
}
