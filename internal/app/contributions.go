package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"
	"savings_circle/internal/domain/notification"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RecordContribution credits one contribution to the open turn and keeps the
// payout amount and the community totals in step with it.
func RecordContribution(st *community.State, mc *community.MidCycle, contributorID int64, contributionID uuid.UUID, amount decimal.Decimal) {
	if mc.Contributions == nil {
		mc.Contributions = make(map[int64][]uuid.UUID)
	}
	if mc.ContributionsToNextInLine == nil {
		mc.ContributionsToNextInLine = community.NewAmountMap()
	}
	mc.Contributions[contributorID] = append(mc.Contributions[contributorID], contributionID)
	mc.ContributionsToNextInLine.Add(contributorID, amount)

	settings := st.Community.Settings
	gross := settings.MinContribution.Mul(decimal.NewFromInt(int64(mc.ContributionCount())))
	cut := settings.BackupCut(gross)

	st.Community.AddToBackupFund(cut.Sub(mc.BackupFundCut))
	mc.BackupFundCut = cut
	mc.PayoutAmount = gross.Sub(cut)
	st.Community.TotalContributed = st.Community.TotalContributed.Add(amount)
}

// ValidateReadiness decides whether every member active when the turn opened
// is covered, either by a recorded contribution or by being the contributor in
// flight. It stores the result on mc and reports whether the flag changed.
func ValidateReadiness(st *community.State, mc *community.MidCycle, currentContributorID *int64) (ready bool, changed bool) {
	ready = true
	for _, m := range st.ActiveMembers() {
		if mc.IsJoiner(m.UserID) {
			continue
		}
		if currentContributorID != nil && *currentContributorID == m.UserID {
			continue
		}
		if !mc.HasContributed(m.UserID) {
			ready = false
			break
		}
	}
	if mc.IsReady == ready {
		return ready, false
	}
	mc.IsReady = ready
	return ready, true
}

// ContributionLedger validates and books member payments.
type ContributionLedger struct {
	wallets ledger.Gateway
	clock   func() time.Time
	logger  *logrus.Entry
}

func NewContributionLedger(wallets ledger.Gateway, clock func() time.Time, logger *logrus.Entry) *ContributionLedger {
	return &ContributionLedger{wallets: wallets, clock: clock, logger: logger}
}

// Contribute books userID's payment for the open turn. The turn is credited
// with exactly the community minimum; any excess settles the member's
// installment plan.
func (l *ContributionLedger) Contribute(ctx context.Context, st *community.State, userID int64, amount decimal.Decimal, eff *Effects) (*community.Contribution, error) {
	mc := st.OpenMidCycle()
	if mc == nil {
		return nil, community.ErrNoOpenMidCycle
	}
	member := st.Member(userID)
	if member == nil {
		return nil, community.ErrMemberNotFound
	}
	if !member.IsActive() {
		return nil, community.ErrMemberNotActive
	}

	minimum := st.Community.Settings.MinContribution
	if amount.LessThan(minimum) {
		return nil, fmt.Errorf("%w: %s < %s", community.ErrContributionBelowMinimum, amount, minimum)
	}
	if mc.HasContributed(userID) {
		return nil, community.ErrAlreadyContributed
	}

	excess := amount.Sub(minimum)
	owing := st.OwingFor(userID)
	if excess.IsPositive() && (owing == nil || excess.GreaterThan(owing.RemainingAmount)) {
		return nil, community.ErrOverpayment
	}

	if err := l.precheck(ctx, userID, amount); err != nil {
		return nil, err
	}

	now := l.clock()
	contribution := &community.Contribution{
		ID:          uuid.New(),
		CommunityID: st.Community.ID,
		UserID:      userID,
		Amount:      amount,
		Status:      community.ContributionCompleted,
		CycleID:     mc.CycleID,
		MidCycleID:  mc.ID,
		CreatedAt:   now,
	}
	RecordContribution(st, mc, userID, contribution.ID, minimum)
	if excess.IsPositive() {
		remaining := settleInstallment(st, member, owing, excess)
		contribution.Partial = &community.PartialPayment{InstallmentAmount: excess, RemainingAfter: remaining}
	}
	st.NewContributions = append(st.NewContributions, contribution)

	ready, changed := ValidateReadiness(st, mc, &userID)
	if ready && changed {
		eff.Notify(mc.NextInLine, st.Community.ID, notification.KindTurnReady,
			"All contributions for your turn in cycle %d are in. Payout of %s is due %s.",
			mc.CycleNumber, mc.PayoutAmount.StringFixed(2), mc.PayoutDate.Format(time.RFC1123))
	}

	eff.Debit(userID, st.Community.ID, amount, ledger.KindContribution,
		fmt.Sprintf("Contribution to cycle %d turn for user %d", mc.CycleNumber, mc.NextInLine))

	l.logger.WithFields(logrus.Fields{
		"community_id": st.Community.ID,
		"user_id":      userID,
		"mid_cycle_id": mc.ID,
		"amount":       amount.String(),
		"ready":        ready,
	}).Info("Contribution recorded")
	return contribution, nil
}

// PayInstallment pays down a joiner's catch-up plan. Proceeds go to the backup fund.
func (l *ContributionLedger) PayInstallment(ctx context.Context, st *community.State, userID int64, amount decimal.Decimal, eff *Effects) (decimal.Decimal, error) {
	member := st.Member(userID)
	if member == nil {
		return decimal.Zero, community.ErrMemberNotFound
	}
	owing := st.OwingFor(userID)
	if owing == nil {
		return decimal.Zero, community.ErrNotOwing
	}
	if !amount.IsPositive() || amount.GreaterThan(owing.RemainingAmount) {
		return decimal.Zero, fmt.Errorf("%w: installment must be in (0, %s]", community.ErrOverpayment, owing.RemainingAmount)
	}
	if err := l.precheck(ctx, userID, amount); err != nil {
		return decimal.Zero, err
	}

	contribution := &community.Contribution{
		ID:          uuid.New(),
		CommunityID: st.Community.ID,
		UserID:      userID,
		Amount:      amount,
		Status:      community.ContributionCompleted,
		CreatedAt:   l.clock(),
	}
	if mc := st.OpenMidCycle(); mc != nil {
		contribution.CycleID = mc.CycleID
		contribution.MidCycleID = mc.ID
	}
	remaining := settleInstallment(st, member, owing, amount)
	contribution.Partial = &community.PartialPayment{InstallmentAmount: amount, RemainingAfter: remaining}
	st.NewContributions = append(st.NewContributions, contribution)

	eff.Debit(userID, st.Community.ID, amount, ledger.KindContribution, "Catch-up installment")
	return remaining, nil
}

func (l *ContributionLedger) precheck(ctx context.Context, userID int64, amount decimal.Decimal) error {
	balance, err := l.wallets.AvailableBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fmt.Errorf("%w: user %d has no wallet", ledger.ErrInsufficientBalance, userID)
		}
		return fmt.Errorf("failed to read balance for user %d: %w", userID, err)
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, needed %s", ledger.ErrInsufficientBalance, balance, amount)
	}
	return nil
}

// settleInstallment applies amount to the member's plan and returns what is left.
func settleInstallment(st *community.State, member *community.Member, owing *community.OwingMember, amount decimal.Decimal) decimal.Decimal {
	owing.RemainingAmount = owing.RemainingAmount.Sub(amount)
	owing.InstallmentsPaid++
	st.Community.AddToBackupFund(amount)

	if member.PaymentPlan != nil {
		member.PaymentPlan.RemainingAmount = owing.RemainingAmount
		member.PaymentPlan.InstallmentsPaid = owing.InstallmentsPaid
	}
	remaining := owing.RemainingAmount
	if !remaining.IsPositive() {
		st.RemoveOwing(member.UserID)
		member.PaymentPlan = nil
		remaining = decimal.Zero
	}
	return remaining
}
