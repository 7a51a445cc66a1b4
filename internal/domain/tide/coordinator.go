// internal/domain/tide/coordinator.go

package tide

import (
	"context"
	"errors"
)

// Creation errors
var (
	ErrMissingCredentials = errors.New("missing creator credentials")
	ErrInvalidData        = errors.New("invalid tide data")
	ErrStoreFailure       = errors.New("store failure")
	ErrIDAssignment       = errors.New("store did not assign an id")
)

// JoinResult is the outcome of a join
type JoinResult string

const (
	JoinJoined        JoinResult = "joined"
	JoinAlreadyJoined JoinResult = "alreadyJoined"
	JoinFull          JoinResult = "full"
	JoinInvalidTide   JoinResult = "invalidGroup"
	JoinNoSuchTide    JoinResult = "noSuchGroup"
	JoinFailed        JoinResult = "failed"
)

// LeaveResult is the outcome of a leave
type LeaveResult string

const (
	LeaveLeft        LeaveResult = "left"
	LeaveNotMember   LeaveResult = "notMember"
	LeaveInvalidData LeaveResult = "invalidData"
	LeaveNoSuchTide  LeaveResult = "noSuchGroup"
	LeaveFailed      LeaveResult = "failed"
)

// Coordinator performs membership-safe transitions on tides
type Coordinator interface {
	// CreateTide inserts a tide with the creator as its only member
	CreateTide(ctx context.Context, req CreateRequest) (string, error)

	// Join adds userID to the roster unless the tide is full or userID is already a member
	Join(ctx context.Context, tideID, userID, username string) (JoinResult, error)

	// Leave removes userID from the roster
	Leave(ctx context.Context, tideID, userID string) (LeaveResult, error)
}
