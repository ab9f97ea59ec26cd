package community

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContributionStatus of an individual payment.
type ContributionStatus string

const (
	ContributionPending   ContributionStatus = "PENDING"
	ContributionCompleted ContributionStatus = "COMPLETED"
)

// PartialPayment is set when part of a contribution settled an installment plan.
type PartialPayment struct {
	InstallmentAmount decimal.Decimal
	RemainingAfter    decimal.Decimal
}

// Contribution is immutable once completed.
type Contribution struct {
	ID          uuid.UUID
	CommunityID int64
	UserID      int64
	Amount      decimal.Decimal
	Status      ContributionStatus
	CycleID     uuid.UUID
	MidCycleID  uuid.UUID
	Partial     *PartialPayment
	CreatedAt   time.Time
}

// Payout is an immutable record of one distribution.
type Payout struct {
	ID          uuid.UUID
	CommunityID int64
	RecipientID int64
	Amount      decimal.Decimal
	CycleID     uuid.UUID
	MidCycleID  uuid.UUID
	CreatedAt   time.Time
}

// SettingKey names a setting that governance votes may change.
type SettingKey string

const (
	SettingPositioningMode       SettingKey = "positioning_mode"
	SettingBackupFundPercentage  SettingKey = "backup_fund_percentage"
	SettingMinContribution       SettingKey = "min_contribution"
	SettingPenaltyAmount         SettingKey = "penalty_amount"
	SettingContributionFrequency SettingKey = "contribution_frequency"
	SettingCycleLock             SettingKey = "cycle_lock"
)

// Vote is a proposal to change one setting at the next cycle boundary.
type Vote struct {
	ID          uuid.UUID
	CommunityID int64
	ProposedBy  int64
	Setting     SettingKey
	Value       string
	Ballots     map[int64]bool
	Resolved    bool
	Passed      bool
	Applied     bool
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// Approvals counts yes ballots.
func (v *Vote) Approvals() int {
	n := 0
	for _, yes := range v.Ballots {
		if yes {
			n++
		}
	}
	return n
}
