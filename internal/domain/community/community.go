// internal/domain/community/community.go
package community

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency controls how far apart payout due dates are.
type Frequency string

const (
	FrequencyHourly   Frequency = "HOURLY"
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
)

// Next returns the due date one contribution period after from.
func (f Frequency) Next(from time.Time) (time.Time, error) {
	switch f {
	case FrequencyHourly:
		return from.Add(time.Hour), nil
	case FrequencyDaily:
		return from.AddDate(0, 0, 1), nil
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7), nil
	case FrequencyBiweekly:
		return from.AddDate(0, 0, 14), nil
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown contribution frequency %q", f)
	}
}

// ParseFrequency accepts any casing of the known frequencies.
func ParseFrequency(raw string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(raw)))
	if _, err := f.Next(time.Time{}); err != nil {
		return "", err
	}
	return f, nil
}

// PositioningMode decides how rotation slots are drawn for cycles after the first.
type PositioningMode string

const (
	PositioningRandom PositioningMode = "RANDOM"
	PositioningFixed  PositioningMode = "FIXED"
)

func ParsePositioningMode(raw string) (PositioningMode, error) {
	m := PositioningMode(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case PositioningRandom, PositioningFixed:
		return m, nil
	}
	return "", fmt.Errorf("unknown positioning mode %q", raw)
}

// Settings are the membership rules a community runs under.
// They change only between cycles, through resolved votes.
type Settings struct {
	ContributionFrequency Frequency
	MinContribution       decimal.Decimal
	BackupFundPercentage  decimal.Decimal // 10 means 10%
	PenaltyAmount         decimal.Decimal
	MinMembersToStart     int
	CycleLock             bool
	Positioning           PositioningMode
}

// Validate reports the first rule the settings break.
func (s Settings) Validate() error {
	if _, err := s.ContributionFrequency.Next(time.Time{}); err != nil {
		return err
	}
	if !s.MinContribution.IsPositive() {
		return fmt.Errorf("minimum contribution must be positive")
	}
	if s.BackupFundPercentage.IsNegative() || s.BackupFundPercentage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("backup fund percentage must be in [0, 100)")
	}
	if s.PenaltyAmount.IsNegative() {
		return fmt.Errorf("penalty amount cannot be negative")
	}
	if s.MinMembersToStart < 2 {
		return fmt.Errorf("a circle needs at least 2 members to start")
	}
	switch s.Positioning {
	case PositioningRandom, PositioningFixed:
	default:
		return fmt.Errorf("unknown positioning mode %q", s.Positioning)
	}
	return nil
}

// BackupCut is the share of amount that goes to the backup fund.
func (s Settings) BackupCut(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.BackupFundPercentage).Div(decimal.NewFromInt(100))
}

// PayoutSummary describes the most recent distribution.
type PayoutSummary struct {
	RecipientID   int64
	Amount        decimal.Decimal
	CycleNumber   int
	DistributedAt time.Time
}

// Community is the aggregate root. Cycles and mid-cycles are referenced by id
// and loaded alongside it in a State.
type Community struct {
	ID          int64
	Name        string
	AdminUserID int64
	Settings    Settings

	TotalContributed  decimal.Decimal
	TotalDistributed  decimal.Decimal
	BackupFundBalance decimal.Decimal

	CycleIDs    []uuid.UUID
	MidCycleIDs []uuid.UUID
	LastPayout  *PayoutSummary

	Version   int64 // optimistic lock; 0 means not yet persisted
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AddToBackupFund moves amount into the reserve. Negative amounts are rejected
// so the balance never drops below zero through this path.
func (c *Community) AddToBackupFund(amount decimal.Decimal) {
	if amount.IsNegative() {
		return
	}
	c.BackupFundBalance = c.BackupFundBalance.Add(amount)
}
