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

// MidCycleManager opens turns, admits mid-cycle joiners and penalises
// non-contributors when a turn falls due unready.
type MidCycleManager struct {
	wallets    ledger.Gateway
	defaulters *DefaulterHandler
	clock      func() time.Time
	logger     *logrus.Entry
}

func NewMidCycleManager(wallets ledger.Gateway, defaulters *DefaulterHandler, clock func() time.Time, logger *logrus.Entry) *MidCycleManager {
	return &MidCycleManager{wallets: wallets, defaulters: defaulters, clock: clock, logger: logger}
}

// StartMidCycle opens a turn for the unpaid active member with the lowest position.
func (m *MidCycleManager) StartMidCycle(st *community.State, eff *Effects) (*community.MidCycle, error) {
	cycle := st.ActiveCycle()
	if cycle == nil {
		return nil, community.ErrNoActiveCycle
	}
	if open := st.OpenMidCycle(); open != nil {
		return nil, fmt.Errorf("%w (mid-cycle %s)", community.ErrMidCycleStillOpen, open.ID)
	}

	var recipient *community.Member
	active := st.ActiveMembers()
	for _, member := range active {
		if !cycle.HasPaid(member.UserID) {
			recipient = member
			break
		}
	}
	if recipient == nil {
		return nil, community.ErrAllMembersPaid
	}

	now := m.clock()
	due, err := st.Community.Settings.ContributionFrequency.Next(now)
	if err != nil {
		return nil, err
	}

	mc := &community.MidCycle{
		ID:                        uuid.New(),
		CommunityID:               st.Community.ID,
		CycleID:                   cycle.ID,
		CycleNumber:               cycle.CycleNumber,
		Contributions:             make(map[int64][]uuid.UUID),
		ContributionsToNextInLine: community.NewAmountMap(),
		NextInLine:                recipient.UserID,
		PayoutAmount:              decimal.Zero,
		BackupFundCut:             decimal.Zero,
		PayoutDate:                due,
		StartedAt:                 now,
	}
	st.AddMidCycle(mc, cycle)
	eff.Reschedule(st.Community.ID, due)

	minimum := st.Community.Settings.MinContribution.StringFixed(2)
	for _, member := range active {
		if member.UserID == recipient.UserID {
			eff.Notify(member.UserID, st.Community.ID, notification.KindTurnStarted,
				"It's your turn in cycle %d of %s. Payout is due %s.", cycle.CycleNumber, st.Community.Name, due.Format(time.RFC1123))
			continue
		}
		eff.Notify(member.UserID, st.Community.ID, notification.KindTurnStarted,
			"A new turn opened in %s. Please contribute %s before %s.", st.Community.Name, minimum, due.Format(time.RFC1123))
	}

	m.logger.WithFields(logrus.Fields{
		"community_id": st.Community.ID,
		"cycle_number": cycle.CycleNumber,
		"mid_cycle_id": mc.ID,
		"next_in_line": recipient.UserID,
		"payout_date":  due,
	}).Info("Mid-cycle started")
	return mc, nil
}

// CatchUpAmount prices a mid-cycle joiner by how many members were already
// paid this cycle.
func CatchUpAmount(minContribution decimal.Decimal, missedCycles, memberCount int) decimal.Decimal {
	missed := decimal.NewFromInt(int64(missedCycles))
	if memberCount <= 0 || missedCycles*2 <= memberCount {
		return minContribution.Add(decimal.NewFromFloat(0.5).Mul(missed).Mul(minContribution))
	}
	ratio := missed.Div(decimal.NewFromInt(int64(memberCount)))
	return ratio.Mul(missed).Mul(minContribution)
}

// AddJoinerMidCycle admits userID while a turn is open. The joiner pays the
// community minimum now; the rest of the catch-up price becomes an
// installment plan.
func (m *MidCycleManager) AddJoinerMidCycle(ctx context.Context, st *community.State, userID int64, eff *Effects) (*community.Member, error) {
	mc := st.OpenMidCycle()
	if mc == nil {
		return nil, community.ErrNoOpenMidCycle
	}
	cycle := st.ActiveCycle()
	if cycle == nil {
		return nil, community.ErrNoActiveCycle
	}
	existing := st.Member(userID)
	if existing != nil && existing.Status != community.MemberInactive {
		return nil, community.ErrAlreadyMember
	}

	settings := st.Community.Settings
	active := st.ActiveMembers()
	missed := len(cycle.PaidMembers)
	required := CatchUpAmount(settings.MinContribution, missed, len(active))
	if required.LessThan(settings.MinContribution) {
		required = settings.MinContribution
	}

	balance, err := m.wallets.AvailableBalance(ctx, userID)
	if err != nil && !errors.Is(err, ledger.ErrWalletNotFound) {
		return nil, fmt.Errorf("failed to read balance for joiner %d: %w", userID, err)
	}
	if err != nil || balance.LessThan(settings.MinContribution) {
		return nil, fmt.Errorf("%w: joining needs %s", ledger.ErrInsufficientBalance, settings.MinContribution)
	}

	now := m.clock()
	member := existing
	if member == nil {
		member = &community.Member{CommunityID: st.Community.ID, UserID: userID, JoinedAt: now, Penalty: decimal.Zero}
		st.Members = append(st.Members, member)
	}
	// A returning member keeps the penalties and missed turns already on record.
	member.UpdatedAt = now
	if settings.CycleLock {
		member.Status = community.MemberWaiting
		member.Position = 0
	} else {
		member.Status = community.MemberActive
		member.Position = nextPosition(st)
	}

	remaining := required.Sub(settings.MinContribution)
	if remaining.IsPositive() {
		installments := 0
		for _, a := range active {
			if !cycle.HasPaid(a.UserID) && a.UserID != mc.NextInLine {
				installments++
			}
		}
		if installments < 1 {
			installments = 1
		}
		member.PaymentPlan = &community.PaymentPlan{
			TotalOwed:         remaining,
			RemainingAmount:   remaining,
			Installments:      installments,
			InstallmentAmount: remaining.Div(decimal.NewFromInt(int64(installments))).RoundUp(2),
		}
		st.RemoveOwing(userID)
		st.Owing = append(st.Owing, &community.OwingMember{
			CommunityID:     st.Community.ID,
			UserID:          userID,
			TotalOwed:       remaining,
			RemainingAmount: remaining,
			Installments:    installments,
			CreatedAt:       now,
		})
	}

	mc.Joiners = append(mc.Joiners, community.Joiner{
		UserID:         userID,
		RequiredAmount: required,
		PaidAmount:     settings.MinContribution,
		JoinedAt:       now,
	})

	contribution := &community.Contribution{
		ID:          uuid.New(),
		CommunityID: st.Community.ID,
		UserID:      userID,
		Amount:      settings.MinContribution,
		Status:      community.ContributionCompleted,
		CycleID:     mc.CycleID,
		MidCycleID:  mc.ID,
		CreatedAt:   now,
	}
	if remaining.IsPositive() {
		contribution.Partial = &community.PartialPayment{RemainingAfter: remaining}
	}
	RecordContribution(st, mc, userID, contribution.ID, settings.MinContribution)
	st.NewContributions = append(st.NewContributions, contribution)

	eff.Debit(userID, st.Community.ID, settings.MinContribution, ledger.KindContribution,
		fmt.Sprintf("Joining contribution to %s", st.Community.Name))
	eff.Notify(userID, st.Community.ID, notification.KindMemberJoined,
		"Welcome to %s. Catch-up price %s, paid %s now, %s remaining in installments.",
		st.Community.Name, required.StringFixed(2), settings.MinContribution.StringFixed(2), remaining.StringFixed(2))

	m.logger.WithFields(logrus.Fields{
		"community_id": st.Community.ID,
		"user_id":      userID,
		"missed":       missed,
		"required":     required.String(),
		"status":       member.Status,
	}).Info("Member joined mid-cycle")
	return member, nil
}

func nextPosition(st *community.State) int {
	highest := 0
	for _, m := range st.Members {
		if m.IsActive() && m.Position > highest {
			highest = m.Position
		}
	}
	return highest + 1
}

// HandleUnreadyMidCycle penalises every member who owed a contribution to the
// open turn and did not pay, then forces the turn ready so the rotation never
// blocks. Members already paid this cycle additionally get their wallet frozen.
func (m *MidCycleManager) HandleUnreadyMidCycle(ctx context.Context, st *community.State, eff *Effects) ([]int64, error) {
	mc := st.OpenMidCycle()
	if mc == nil {
		return nil, community.ErrNoOpenMidCycle
	}
	if mc.IsReady {
		return nil, nil
	}
	cycle := st.CycleByID(mc.CycleID)
	log := m.logger.WithFields(logrus.Fields{"community_id": st.Community.ID, "mid_cycle_id": mc.ID})

	settings := st.Community.Settings
	now := m.clock()
	var penalized []int64
	expected := 0
	for _, member := range st.ActiveMembers() {
		if mc.IsJoiner(member.UserID) {
			continue
		}
		if _, paid := mc.ContributionsToNextInLine.Get(member.UserID); !paid {
			expected++
		}
		if mc.HasContributed(member.UserID) {
			continue
		}

		member.Penalty = member.Penalty.Add(settings.PenaltyAmount)
		member.MissedContributions = append(member.MissedContributions, community.MissedContribution{
			MidCycleIDs: []uuid.UUID{mc.ID},
			CycleNumber: mc.CycleNumber,
			Amount:      settings.MinContribution,
			RecordedAt:  now,
		})
		member.UpdatedAt = now
		penalized = append(penalized, member.UserID)
		eff.Count(penaltiesTotal)

		eff.Notify(member.UserID, st.Community.ID, notification.KindPenalty,
			"You missed the contribution for cycle %d. A penalty of %s was applied.",
			mc.CycleNumber, settings.PenaltyAmount.StringFixed(2))

		if cycle != nil && cycle.HasPaid(member.UserID) {
			if err := m.defaulters.Freeze(ctx, st, member, eff); err != nil {
				return nil, err
			}
		}
	}

	if expected != len(penalized) {
		// Contribution ids and running amounts disagree; reconcile, never invent defaulters.
		log.WithFields(logrus.Fields{
			"expected_defaulters": expected,
			"penalized":           len(penalized),
		}).Warn("Defaulter count mismatch between contribution records and running totals")
	}

	mc.IsReady = true
	log.WithField("penalized", penalized).Info("Unready mid-cycle forced ready")
	return penalized, nil
}
