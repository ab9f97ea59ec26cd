package app

import (
	"errors"
	"fmt"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"
)

// Custom application-level errors
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not the community administrator")
var ErrInvalidSettings = fmt.Errorf("invalid community settings")
var ErrAdminCannotLeave = fmt.Errorf("the community administrator cannot leave")

var validationErrors = []error{
	ErrAdminNotAuthorized,
	ErrInvalidSettings,
	ErrAdminCannotLeave,
	community.ErrCommunityNotFound,
	community.ErrMemberNotFound,
	community.ErrAlreadyMember,
	community.ErrAdminNotActive,
	community.ErrInsufficientMembers,
	community.ErrCyclesAlreadyStarted,
	community.ErrCycleInProgress,
	community.ErrContributionBelowMinimum,
	community.ErrOverpayment,
	community.ErrAlreadyContributed,
	community.ErrMemberNotActive,
	community.ErrMemberIsRecipient,
	community.ErrMemberHasPenalties,
	community.ErrNotOwing,
	community.ErrVoteNotFound,
	community.ErrVoteResolved,
	ledger.ErrInsufficientBalance,
	ledger.ErrFrozen,
}

// IsValidation reports whether err is a caller mistake that retrying cannot fix.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsIntegrity reports whether err means the stored rotation state is
// structurally inconsistent and needs a reconciliation pass.
func IsIntegrity(err error) bool {
	return errors.Is(err, community.ErrNoActiveCycle) || errors.Is(err, community.ErrOrphanedMidCycle)
}
