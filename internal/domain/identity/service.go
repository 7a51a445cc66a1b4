// internal/domain/identity/service.go

package identity

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// UsersCollection is the top-level collection holding user profiles
const UsersCollection = "users"

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrBanned      = errors.New("user is banned")
	ErrSelfBlock   = errors.New("cannot block yourself")
)

// User is a profile as consumed by the core. BlockedUsers maps the ids this
// user has blocked to their usernames; BlockedUserIDs mirrors its keys for
// indexed queries.
type User struct {
	ID             string            `json:"id" firestore:"-"`
	Username       string            `json:"username" firestore:"username"`
	BlockedUsers   map[string]string `json:"blockedUsers" firestore:"blockedUsers"`
	BlockedUserIDs []string          `json:"blockedUserIds" firestore:"blockedUserIds"`
	Adult          bool              `json:"adult" firestore:"adult"`
	Banned         bool              `json:"banned" firestore:"banned"`
}

// UserSet is a set of user ids
type UserSet map[string]struct{}

// NewUserSet builds a set from ids
func NewUserSet(ids ...string) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set
func (s UserSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in sorted order
func (s UserSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone copies the set
func (s UserSet) Clone() UserSet {
	c := make(UserSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Session is the explicit caller context handed to services in place of
// ambient auth state. Block sets may change while the session is live.
type Session struct {
	UserID   string
	Username string
	Adult    bool

	mu        sync.RWMutex
	blocked   UserSet
	blockedBy UserSet
}

// NewSession builds a session
func NewSession(userID, username string, adult bool, blocked, blockedBy UserSet) *Session {
	if blocked == nil {
		blocked = UserSet{}
	}
	if blockedBy == nil {
		blockedBy = UserSet{}
	}
	return &Session{
		UserID:    userID,
		Username:  username,
		Adult:     adult,
		blocked:   blocked,
		blockedBy: blockedBy,
	}
}

// Blocks returns copies of the ids this user blocked and the ids that blocked this user
func (s *Session) Blocks() (blocked, blockedBy UserSet) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.blocked.Clone(), s.blockedBy.Clone()
}

// SetBlocks replaces both block sets
func (s *Session) SetBlocks(blocked, blockedBy UserSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocked = blocked.Clone()
	s.blockedBy = blockedBy.Clone()
}

// Service resolves sessions and mutates block lists
type Service interface {
	// Session loads the caller's profile and block sets
	Session(ctx context.Context, userID string) (*Session, error)

	// Refresh reloads the block sets of a live session
	Refresh(ctx context.Context, session *Session) error

	// Block adds targetID to the caller's block list
	Block(ctx context.Context, session *Session, targetID, targetUsername string) error

	// Unblock removes targetID from the caller's block list
	Unblock(ctx context.Context, session *Session, targetID string) error
}
