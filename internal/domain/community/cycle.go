// internal/domain/community/cycle.go
package community

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cycle is one full rotation: every active member receives one payout.
type Cycle struct {
	ID          uuid.UUID
	CommunityID int64
	CycleNumber int // 1-based, strictly increasing per community
	MidCycleIDs []uuid.UUID
	PaidMembers []int64
	IsComplete  bool
	StartDate   time.Time
	EndDate     *time.Time
}

func (c *Cycle) HasPaid(userID int64) bool {
	for _, id := range c.PaidMembers {
		if id == userID {
			return true
		}
	}
	return false
}

// MarkPaid appends userID to the paid list unless it is already there.
func (c *Cycle) MarkPaid(userID int64) bool {
	if c.HasPaid(userID) {
		return false
	}
	c.PaidMembers = append(c.PaidMembers, userID)
	return true
}

// LinkMidCycle adds id to the cycle's mid-cycle list unless already linked.
func (c *Cycle) LinkMidCycle(id uuid.UUID) bool {
	for _, existing := range c.MidCycleIDs {
		if existing == id {
			return false
		}
	}
	c.MidCycleIDs = append(c.MidCycleIDs, id)
	return true
}

// Joiner is a member admitted while a turn was already open.
type Joiner struct {
	UserID         int64
	RequiredAmount decimal.Decimal
	PaidAmount     decimal.Decimal
	JoinedAt       time.Time
}

// MidCycle is one rotation turn paying NextInLine.
type MidCycle struct {
	ID          uuid.UUID
	CommunityID int64
	CycleID     uuid.UUID
	CycleNumber int

	// Contributions lists the contribution ids each user paid into this turn.
	Contributions             map[int64][]uuid.UUID
	ContributionsToNextInLine *AmountMap

	NextInLine     int64
	IsReady        bool
	IsComplete     bool
	PayoutAmount   decimal.Decimal
	BackupFundCut  decimal.Decimal
	PayoutDate     time.Time
	Joiners        []Joiner
	ReminderSentAt *time.Time
	StartedAt      time.Time
	CompletedAt    *time.Time

	Version int64
}

// HasContributed reports whether userID has at least one contribution on record.
func (mc *MidCycle) HasContributed(userID int64) bool {
	return len(mc.Contributions[userID]) > 0
}

// ContributionCount is the number of contributions recorded for this turn.
func (mc *MidCycle) ContributionCount() int {
	n := 0
	for _, ids := range mc.Contributions {
		n += len(ids)
	}
	return n
}

// IsJoiner reports whether userID joined after the turn opened.
func (mc *MidCycle) IsJoiner(userID int64) bool {
	for _, j := range mc.Joiners {
		if j.UserID == userID {
			return true
		}
	}
	return false
}
