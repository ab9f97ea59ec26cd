// internal/domain/community/member.go
package community

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemberStatus is where a member stands in the rotation.
type MemberStatus string

const (
	MemberActive   MemberStatus = "ACTIVE"
	MemberWaiting  MemberStatus = "WAITING"
	MemberInactive MemberStatus = "INACTIVE"
)

// MissedContribution records an unpaid turn contribution.
type MissedContribution struct {
	MidCycleIDs []uuid.UUID
	CycleNumber int
	Amount      decimal.Decimal
	RecordedAt  time.Time
}

// PaymentPlan is the installment schedule of a member who joined mid-cycle.
type PaymentPlan struct {
	TotalOwed         decimal.Decimal
	RemainingAmount   decimal.Decimal
	Installments      int
	InstallmentsPaid  int
	InstallmentAmount decimal.Decimal
}

// Member is a participant of one community, identified by user id.
type Member struct {
	CommunityID         int64
	UserID              int64
	Position            int // 0 until a cycle assigns one
	Status              MemberStatus
	Penalty             decimal.Decimal
	MissedContributions []MissedContribution
	PaymentPlan         *PaymentPlan
	JoinedAt            time.Time
	UpdatedAt           time.Time
}

func (m *Member) IsActive() bool { return m.Status == MemberActive }

// HasDebt reports whether the member carries a penalty or missed contributions.
func (m *Member) HasDebt() bool {
	return m.Penalty.IsPositive() || len(m.MissedContributions) > 0
}

// PenaltyTotal is the standing penalty plus every missed contribution.
func (m *Member) PenaltyTotal() decimal.Decimal {
	total := m.Penalty
	for _, mc := range m.MissedContributions {
		total = total.Add(mc.Amount)
	}
	return total
}

// ConsolidatePenalty folds the missed-contribution list into the scalar
// penalty, leaving remaining as the only debt on record.
func (m *Member) ConsolidatePenalty(remaining decimal.Decimal) {
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	m.Penalty = remaining
	m.MissedContributions = nil
}

// OwingMember tracks a mid-cycle joiner's outstanding catch-up balance.
type OwingMember struct {
	CommunityID      int64
	UserID           int64
	TotalOwed        decimal.Decimal
	RemainingAmount  decimal.Decimal
	Installments     int
	InstallmentsPaid int
	CreatedAt        time.Time
}
