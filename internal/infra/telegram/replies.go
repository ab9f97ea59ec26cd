package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"savings_circle/internal/app"
	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"

	"github.com/shopspring/decimal"
)

const msgUnauthorized = "Error: you are not allowed to run this command."

var userErrors = []struct {
	err  error
	text string
}{
	{app.ErrAdminNotAuthorized, msgUnauthorized},
	{app.ErrAdminCannotLeave, "The administrator cannot leave or be removed from the circle."},
	{community.ErrCommunityNotFound, "Circle not found."},
	{community.ErrMemberNotFound, "You are not a member of this circle."},
	{community.ErrAlreadyMember, "You are already a member of this circle."},
	{community.ErrInsufficientMembers, "Not enough active members to start a cycle yet."},
	{community.ErrCyclesAlreadyStarted, "The circle has already started."},
	{community.ErrCycleInProgress, "The current cycle is still running."},
	{community.ErrMidCycleStillOpen, "A turn is still open."},
	{community.ErrNoOpenMidCycle, "There is no open turn right now."},
	{community.ErrNoReadyMidCycle, "The turn is not ready for payout yet."},
	{community.ErrContributionBelowMinimum, "The amount is below the circle's minimum contribution."},
	{community.ErrOverpayment, "The amount is larger than what you owe."},
	{community.ErrAlreadyContributed, "You have already contributed to this turn."},
	{community.ErrMemberNotActive, "Your membership is not active."},
	{community.ErrMemberIsRecipient, "You cannot leave while you are receiving the current payout."},
	{community.ErrMemberHasPenalties, "You have unpaid penalties."},
	{community.ErrNotOwing, "You have no installment plan."},
	{community.ErrVoteNotFound, "Vote not found."},
	{community.ErrVoteResolved, "This vote is already closed."},
	{ledger.ErrInsufficientBalance, "Your wallet balance is too low."},
	{ledger.ErrFrozen, "Your wallet is frozen until your penalties are paid."},
}

// replyForError maps engine errors onto chat replies. Unknown errors get a generic reply.
func replyForError(err error) string {
	for _, ue := range userErrors {
		if errors.Is(err, ue.err) {
			return ue.text
		}
	}
	if errors.Is(err, app.ErrInvalidSettings) {
		return fmt.Sprintf("Invalid settings: %s", err.Error())
	}
	return "Something went wrong. Please try again later."
}

func parseCommunityID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("circle id must be a positive number, got %q", raw)
	}
	return id, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", amount)
	}
	return amount, nil
}

func parseBallot(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "да":
		return true, nil
	case "no", "n", "нет":
		return false, nil
	}
	return false, fmt.Errorf("ballot must be yes or no, got %q", raw)
}

// parseSettings reads /create arguments after the name:
// <frequency> <min_contribution> [backup_percent] [penalty] [min_members].
func parseSettings(args []string) (community.Settings, error) {
	if len(args) < 2 || len(args) > 5 {
		return community.Settings{}, fmt.Errorf("expected 2 to 5 settings arguments, got %d", len(args))
	}
	freq, err := community.ParseFrequency(args[0])
	if err != nil {
		return community.Settings{}, err
	}
	minContribution, err := parseAmount(args[1])
	if err != nil {
		return community.Settings{}, err
	}
	s := community.Settings{
		ContributionFrequency: freq,
		MinContribution:       minContribution,
		BackupFundPercentage:  decimal.NewFromInt(10),
		PenaltyAmount:         decimal.Zero,
		MinMembersToStart:     2,
		Positioning:           community.PositioningRandom,
	}
	if len(args) > 2 {
		if s.BackupFundPercentage, err = decimal.NewFromString(args[2]); err != nil {
			return community.Settings{}, fmt.Errorf("invalid backup percentage %q", args[2])
		}
	}
	if len(args) > 3 {
		if s.PenaltyAmount, err = decimal.NewFromString(args[3]); err != nil {
			return community.Settings{}, fmt.Errorf("invalid penalty %q", args[3])
		}
	}
	if len(args) > 4 {
		if s.MinMembersToStart, err = strconv.Atoi(args[4]); err != nil {
			return community.Settings{}, fmt.Errorf("invalid member count %q", args[4])
		}
	}
	return s, s.Validate()
}

// formatStatus renders a community snapshot for /status.
func formatStatus(st *community.State, viewerID int64) string {
	c := st.Community
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s (#%d) ---\n", c.Name, c.ID)
	fmt.Fprintf(&b, "Contribution: %s %s, backup fund %s%%\n",
		c.Settings.MinContribution.StringFixed(2), strings.ToLower(string(c.Settings.ContributionFrequency)), c.Settings.BackupFundPercentage)
	fmt.Fprintf(&b, "Active members: %d, backup fund balance: %s\n", len(st.ActiveMembers()), c.BackupFundBalance.StringFixed(2))

	if cycle := st.ActiveCycle(); cycle != nil {
		fmt.Fprintf(&b, "Cycle %d: %d paid\n", cycle.CycleNumber, len(cycle.PaidMembers))
	} else {
		b.WriteString("No cycle running\n")
	}
	if mc := st.OpenMidCycle(); mc != nil {
		ready := "collecting"
		if mc.IsReady {
			ready = "ready"
		}
		fmt.Fprintf(&b, "Current turn pays user %d on %s (%s, %d contributions)\n",
			mc.NextInLine, mc.PayoutDate.UTC().Format("2006-01-02 15:04 MST"), ready, mc.ContributionCount())
		if m := st.Member(viewerID); m != nil && m.IsActive() && !mc.IsJoiner(viewerID) {
			if mc.HasContributed(viewerID) {
				b.WriteString("You have contributed to this turn.\n")
			} else {
				b.WriteString("You have not contributed to this turn yet.\n")
			}
		}
	}
	if m := st.Member(viewerID); m != nil {
		fmt.Fprintf(&b, "Your position: %d, status: %s", m.Position, strings.ToLower(string(m.Status)))
		if debt := m.PenaltyTotal(); debt.IsPositive() {
			fmt.Fprintf(&b, ", owed penalties: %s", debt.StringFixed(2))
		}
		if o := st.OwingFor(viewerID); o != nil {
			fmt.Fprintf(&b, ", installments left: %s", o.RemainingAmount.StringFixed(2))
		}
	}
	return b.String()
}
