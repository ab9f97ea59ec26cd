package telegram

import (
	"fmt"
	"testing"
	"time"

	"savings_circle/internal/app"
	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyForError(t *testing.T) {
	assert.Equal(t, msgUnauthorized, replyForError(fmt.Errorf("wrapped: %w", app.ErrAdminNotAuthorized)))
	assert.Equal(t, "Your wallet balance is too low.", replyForError(fmt.Errorf("%w: balance 1", ledger.ErrInsufficientBalance)))
	assert.Equal(t, "You have already contributed to this turn.", replyForError(community.ErrAlreadyContributed))
	assert.Contains(t, replyForError(fmt.Errorf("%w: name is required", app.ErrInvalidSettings)), "Invalid settings")
	assert.Equal(t, "Something went wrong. Please try again later.", replyForError(fmt.Errorf("pq: connection refused")))
}

func TestParseCommunityID(t *testing.T) {
	id, err := parseCommunityID(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, raw := range []string{"0", "-3", "abc", ""} {
		_, err := parseCommunityID(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := parseAmount("30.50")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("30.5")))

	for _, raw := range []string{"0", "-1", "ten"} {
		_, err := parseAmount(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseBallot(t *testing.T) {
	for raw, want := range map[string]bool{"yes": true, "Y": true, "да": true, "no": false, "N": false, "нет": false} {
		got, err := parseBallot(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := parseBallot("maybe")
	assert.Error(t, err)
}

func TestParseSettings(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := parseSettings([]string{"weekly", "25"})
		require.NoError(t, err)
		assert.Equal(t, community.FrequencyWeekly, s.ContributionFrequency)
		assert.True(t, s.MinContribution.Equal(decimal.NewFromInt(25)))
		assert.True(t, s.BackupFundPercentage.Equal(decimal.NewFromInt(10)))
		assert.True(t, s.PenaltyAmount.IsZero())
		assert.Equal(t, 2, s.MinMembersToStart)
		assert.Equal(t, community.PositioningRandom, s.Positioning)
	})

	t.Run("all arguments", func(t *testing.T) {
		s, err := parseSettings([]string{"Monthly", "100", "5", "7.5", "6"})
		require.NoError(t, err)
		assert.Equal(t, community.FrequencyMonthly, s.ContributionFrequency)
		assert.True(t, s.BackupFundPercentage.Equal(decimal.NewFromInt(5)))
		assert.True(t, s.PenaltyAmount.Equal(decimal.RequireFromString("7.5")))
		assert.Equal(t, 6, s.MinMembersToStart)
	})

	for name, args := range map[string][]string{
		"too few":          {"weekly"},
		"bad frequency":    {"yearly", "10"},
		"bad amount":       {"weekly", "x"},
		"bad percentage":   {"weekly", "10", "abc"},
		"percentage range": {"weekly", "10", "100"},
		"one member":       {"weekly", "10", "10", "0", "1"},
		"too many":         {"weekly", "10", "10", "0", "3", "extra"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseSettings(args)
			assert.Error(t, err)
		})
	}
}

func TestFormatStatus(t *testing.T) {
	cycle := &community.Cycle{ID: uuid.New(), CycleNumber: 2, PaidMembers: []int64{1}}
	mc := &community.MidCycle{
		ID:            uuid.New(),
		CycleID:       cycle.ID,
		CycleNumber:   2,
		NextInLine:    2,
		Contributions: map[int64][]uuid.UUID{1: {uuid.New()}},
		PayoutDate:    time.Date(2026, 4, 13, 10, 0, 0, 0, time.UTC),
	}
	st := &community.State{
		Community: &community.Community{
			ID:   5,
			Name: "Neighbours",
			Settings: community.Settings{
				ContributionFrequency: community.FrequencyWeekly,
				MinContribution:       decimal.NewFromInt(30),
				BackupFundPercentage:  decimal.NewFromInt(10),
			},
			BackupFundBalance: decimal.RequireFromString("12.5"),
		},
		Members: []*community.Member{
			{UserID: 1, Position: 1, Status: community.MemberActive, Penalty: decimal.Zero},
			{UserID: 2, Position: 2, Status: community.MemberActive, Penalty: decimal.NewFromInt(5)},
		},
		Cycles:    []*community.Cycle{cycle},
		MidCycles: []*community.MidCycle{mc},
	}

	out := formatStatus(st, 2)
	assert.Contains(t, out, "Neighbours (#5)")
	assert.Contains(t, out, "backup fund balance: 12.50")
	assert.Contains(t, out, "Cycle 2: 1 paid")
	assert.Contains(t, out, "pays user 2 on 2026-04-13 10:00 UTC (collecting, 1 contributions)")
	assert.Contains(t, out, "You have not contributed")
	assert.Contains(t, out, "owed penalties: 5.00")

	assert.Contains(t, formatStatus(st, 1), "You have contributed")
	assert.NotContains(t, formatStatus(st, 99), "Your position")
}

func TestFormatPayoutResult(t *testing.T) {
	res := &app.PayoutResult{
		RecipientID:     3,
		CycleNumber:     1,
		PayoutAmount:    decimal.NewFromInt(81),
		PenaltyWithheld: decimal.NewFromInt(35),
		NetPayout:       decimal.NewFromInt(46),
		CycleComplete:   true,
		NextCycleNumber: 2,
	}
	assert.Equal(t, "Paid 46.00 to user 3 (35.00 withheld for penalties). Cycle 1 complete, cycle 2 started.", formatPayoutResult(res))

	redirected := &app.PayoutResult{RecipientID: 3, PayoutAmount: decimal.NewFromInt(81), Redirected: true}
	assert.Contains(t, formatPayoutResult(redirected), "went to the backup fund")
}
