package community

import (
	"errors"
	"fmt"
)

var (
	ErrCommunityNotFound    = errors.New("community not found")
	ErrMemberNotFound       = errors.New("member not found in community")
	ErrAlreadyMember        = errors.New("user is already a member of this community")
	ErrAdminNotActive       = errors.New("community administrator is not an active member")
	ErrInsufficientMembers  = errors.New("not enough members to start a cycle")
	ErrCyclesAlreadyStarted = errors.New("community has already started its first cycle")
	ErrNoActiveCycle        = errors.New("no active cycle found")
	ErrCycleInProgress      = errors.New("cannot start new cycle until current cycle completes")
	ErrNoOpenMidCycle       = errors.New("no open mid-cycle found")
	ErrMidCycleStillOpen    = errors.New("a mid-cycle is still open for this community")
	ErrNoReadyMidCycle      = errors.New("no ready mid-cycle to distribute")
	ErrAllMembersPaid       = errors.New("all active members have been paid this cycle")
	ErrOrphanedMidCycle     = errors.New("mid-cycle is not linked to its cycle")

	ErrContributionBelowMinimum = errors.New("contribution is below the community minimum")
	ErrOverpayment              = errors.New("contribution exceeds the minimum and no installment plan is owed")
	ErrAlreadyContributed       = errors.New("member already contributed to this turn")
	ErrMemberNotActive          = errors.New("member is not active")
	ErrMemberIsRecipient        = errors.New("member is the current turn's recipient")
	ErrMemberHasPenalties       = errors.New("member has unpaid penalties")
	ErrNotOwing                 = errors.New("member has no outstanding installment plan")
	ErrVoteNotFound             = errors.New("vote not found")
	ErrVoteResolved             = errors.New("vote is already resolved")
)

// ConflictError is returned when a save loses an optimistic version race.
type ConflictError struct {
	Entity          string
	ID              string
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s (expected version %d)", e.Entity, e.ID, e.ExpectedVersion)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
