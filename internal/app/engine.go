package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"
	"savings_circle/internal/domain/notification"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// EngineDeps are the collaborators the engine is built from.
type EngineDeps struct {
	Store          community.Store
	Wallets        ledger.Gateway
	Notifier       notification.Notifier
	Clock          func() time.Time
	Shuffle        Shuffler
	TxRetry        RetryPolicy
	ReminderWindow time.Duration
	Logger         *logrus.Logger
}

// Engine is the rotating savings circle. Every mutating method is one unit
// of work against a single community.
type Engine struct {
	store          community.Store
	coord          *Coordinator
	contributions  *ContributionLedger
	midCycles      *MidCycleManager
	cycles         *CycleManager
	payouts        *PayoutDistributor
	votes          *VoteResolver
	clock          func() time.Time
	reminderWindow time.Duration
	logger         *logrus.Entry
}

func NewEngine(deps EngineDeps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	base := deps.Logger
	if base == nil {
		base = logrus.StandardLogger()
	}
	component := func(name string) *logrus.Entry { return base.WithField("component", name) }

	defaulters := NewDefaulterHandler(deps.Wallets, component("defaulters"))
	midCycles := NewMidCycleManager(deps.Wallets, defaulters, clock, component("mid_cycles"))
	votes := NewVoteResolver(clock, component("votes"))
	cycles := NewCycleManager(NewPositionAssigner(deps.Shuffle), midCycles, defaulters, votes, clock, component("cycles"))

	return &Engine{
		store:          deps.Store,
		coord:          NewCoordinator(deps.Store, deps.Wallets, deps.Notifier, deps.TxRetry, component("coordinator")),
		contributions:  NewContributionLedger(deps.Wallets, clock, component("contributions")),
		midCycles:      midCycles,
		cycles:         cycles,
		payouts:        NewPayoutDistributor(midCycles, cycles, clock, component("payouts")),
		votes:          votes,
		clock:          clock,
		reminderWindow: deps.ReminderWindow,
		logger:         component("engine"),
	}
}

// SetScheduler connects the payout scheduler that due dates are pushed to.
func (e *Engine) SetScheduler(s PayoutScheduler) {
	e.coord.SetScheduler(s)
}

// CreateCommunity registers a community with adminUserID as its first active member.
func (e *Engine) CreateCommunity(ctx context.Context, adminUserID int64, name string, settings community.Settings) (*community.Community, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSettings)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	var created *community.Community
	err := e.coord.Create(ctx, "create_community", func(eff *Effects) (*community.State, error) {
		now := e.clock()
		st := &community.State{
			Community: &community.Community{
				Name:              name,
				AdminUserID:       adminUserID,
				Settings:          settings,
				TotalContributed:  decimal.Zero,
				TotalDistributed:  decimal.Zero,
				BackupFundBalance: decimal.Zero,
				CreatedAt:         now,
				UpdatedAt:         now,
			},
			Members: []*community.Member{{
				UserID:   adminUserID,
				Status:   community.MemberActive,
				Penalty:  decimal.Zero,
				JoinedAt: now,
			}},
		}
		created = st.Community
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.WithFields(logrus.Fields{"community_id": created.ID, "admin_id": adminUserID}).Info("Community created")
	return created, nil
}

// JoinCommunity adds userID. Before the first cycle the member is active at
// once and the first cycle starts when enough members have joined. While a
// turn is open the joiner is priced in through catch-up installments.
func (e *Engine) JoinCommunity(ctx context.Context, communityID, userID int64) (*community.Member, error) {
	var joined *community.Member
	err := e.coord.Execute(ctx, "join_community", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		if st.OpenMidCycle() != nil {
			m, err := e.midCycles.AddJoinerMidCycle(ctx, st, userID, eff)
			joined = m
			return err
		}

		existing := st.Member(userID)
		if existing != nil && existing.Status != community.MemberInactive {
			return community.ErrAlreadyMember
		}
		now := e.clock()
		member := existing
		if member == nil {
			member = &community.Member{CommunityID: st.Community.ID, UserID: userID, Penalty: decimal.Zero, JoinedAt: now}
			st.Members = append(st.Members, member)
		}
		member.Status = community.MemberActive
		if len(st.Cycles) > 0 && st.Community.Settings.CycleLock {
			member.Status = community.MemberWaiting
		}
		member.UpdatedAt = now
		joined = member

		for _, other := range st.ActiveMembers() {
			if other.UserID != userID {
				eff.Notify(other.UserID, st.Community.ID, notification.KindMemberJoined,
					"User %d joined %s.", userID, st.Community.Name)
			}
		}

		if len(st.Cycles) == 0 && len(st.ActiveMembers()) >= st.Community.Settings.MinMembersToStart {
			if _, err := e.cycles.StartFirstCycle(ctx, st, eff); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return joined, nil
}

// LeaveCommunity deactivates userID.
func (e *Engine) LeaveCommunity(ctx context.Context, communityID, userID int64) error {
	return e.coord.Execute(ctx, "leave_community", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		if userID == st.Community.AdminUserID {
			return ErrAdminCannotLeave
		}
		return e.deactivate(st, userID, false, eff)
	})
}

// deactivate marks userID inactive. Unless force is set, members with
// penalties on record cannot leave.
func (e *Engine) deactivate(st *community.State, userID int64, force bool, eff *Effects) error {
	member := st.Member(userID)
	if member == nil {
		return community.ErrMemberNotFound
	}
	if member.Status == community.MemberInactive {
		return community.ErrMemberNotActive
	}
	mc := st.OpenMidCycle()
	if mc != nil && mc.NextInLine == userID {
		return community.ErrMemberIsRecipient
	}
	if !force && member.HasDebt() {
		return community.ErrMemberHasPenalties
	}

	member.Status = community.MemberInactive
	member.Position = 0
	member.UpdatedAt = e.clock()

	if mc != nil {
		if ready, changed := ValidateReadiness(st, mc, nil); ready && changed {
			eff.Notify(mc.NextInLine, st.Community.ID, notification.KindTurnReady,
				"All contributions for your turn in cycle %d are in. Payout of %s is due %s.",
				mc.CycleNumber, mc.PayoutAmount.StringFixed(2), mc.PayoutDate.Format(time.RFC1123))
		}
	}
	e.logger.WithFields(logrus.Fields{"community_id": st.Community.ID, "user_id": userID, "forced": force}).Info("Member deactivated")
	return nil
}

func (e *Engine) StartFirstCycle(ctx context.Context, communityID int64) (*community.Cycle, error) {
	var cycle *community.Cycle
	err := e.coord.Execute(ctx, "start_first_cycle", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		c, err := e.cycles.StartFirstCycle(ctx, st, eff)
		cycle = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return cycle, nil
}

func (e *Engine) StartNewCycle(ctx context.Context, communityID int64) (*community.Cycle, error) {
	var cycle *community.Cycle
	err := e.coord.Execute(ctx, "start_new_cycle", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		c, err := e.cycles.StartNewCycle(ctx, st, eff)
		cycle = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return cycle, nil
}

func (e *Engine) Contribute(ctx context.Context, communityID, userID int64, amount decimal.Decimal) (*community.Contribution, error) {
	var contribution *community.Contribution
	err := e.coord.Execute(ctx, "contribute", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		c, err := e.contributions.Contribute(ctx, st, userID, amount, eff)
		contribution = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return contribution, nil
}

// PayInstallment returns what is still owed after the payment.
func (e *Engine) PayInstallment(ctx context.Context, communityID, userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var remaining decimal.Decimal
	err := e.coord.Execute(ctx, "pay_installment", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		r, err := e.contributions.PayInstallment(ctx, st, userID, amount, eff)
		remaining = r
		return err
	})
	return remaining, err
}

// DistributePayouts pays the ready open turn immediately.
func (e *Engine) DistributePayouts(ctx context.Context, communityID int64) (*PayoutResult, error) {
	var res *PayoutResult
	err := e.coord.Execute(ctx, "distribute_payouts", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		r, err := e.payouts.Distribute(ctx, st, eff)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// HandleUnreadyMidCycle penalises the open turn's non-contributors and marks it ready.
func (e *Engine) HandleUnreadyMidCycle(ctx context.Context, communityID int64) ([]int64, error) {
	var penalized []int64
	err := e.coord.Execute(ctx, "handle_unready_mid_cycle", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		p, err := e.midCycles.HandleUnreadyMidCycle(ctx, st, eff)
		penalized = p
		return err
	})
	return penalized, err
}

// ProcessDuePayout is the scheduler's job body. It reconciles, penalises an
// unready turn and distributes, all in one unit of work. A turn that is not
// due yet is rescheduled and nothing is written.
func (e *Engine) ProcessDuePayout(ctx context.Context, communityID int64) (*PayoutResult, error) {
	var res *PayoutResult
	err := e.coord.Execute(ctx, "process_due_payout", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		res = nil
		Reconcile(st, e.logger)

		mc := st.OpenMidCycle()
		if mc == nil {
			eff.Unschedule(communityID)
			return errNoChange
		}
		if e.clock().Before(mc.PayoutDate) {
			eff.Reschedule(communityID, mc.PayoutDate)
			return errNoChange
		}
		if !mc.IsReady {
			if _, err := e.midCycles.HandleUnreadyMidCycle(ctx, st, eff); err != nil {
				return err
			}
		}
		r, err := e.payouts.Distribute(ctx, st, eff)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Reconcile repairs mid-cycle links for one community.
func (e *Engine) Reconcile(ctx context.Context, communityID int64) (ReconcileReport, error) {
	var report ReconcileReport
	err := e.coord.Execute(ctx, "reconcile", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		report = Reconcile(st, e.logger)
		if report.Relinked == 0 {
			return errNoChange
		}
		return nil
	})
	return report, err
}

// ReconcileAll reconciles every community with an open turn.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	turns, err := e.store.ListOpenTurns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open turns: %w", err)
	}
	var errs []error
	for _, t := range turns {
		if _, err := e.Reconcile(ctx, t.CommunityID); err != nil {
			errs = append(errs, fmt.Errorf("community %d: %w", t.CommunityID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) ProposeVote(ctx context.Context, communityID, proposerID int64, setting community.SettingKey, value string) (*community.Vote, error) {
	var vote *community.Vote
	err := e.coord.Execute(ctx, "propose_vote", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		v, err := e.votes.Propose(st, proposerID, setting, value)
		vote = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return vote, nil
}

func (e *Engine) CastVote(ctx context.Context, communityID int64, voteID uuid.UUID, userID int64, approve bool) (*community.Vote, error) {
	var vote *community.Vote
	err := e.coord.Execute(ctx, "cast_vote", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		v, err := e.votes.Cast(st, voteID, userID, approve)
		vote = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return vote, nil
}

// SendContributionReminders nudges the non-contributors of every unready turn
// due within the reminder window. Each turn is reminded once. It returns the
// number of turns reminded.
func (e *Engine) SendContributionReminders(ctx context.Context) (int, error) {
	turns, err := e.store.ListOpenTurns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open turns: %w", err)
	}

	now := e.clock()
	reminded := 0
	var errs []error
	for _, t := range turns {
		if t.IsReady || t.ReminderSent || t.PayoutDate.Sub(now) > e.reminderWindow {
			continue
		}
		sent := false
		err := e.coord.Execute(ctx, "send_reminders", t.CommunityID, func(ctx context.Context, st *community.State, eff *Effects) error {
			sent = false
			mc := st.OpenMidCycle()
			if mc == nil || mc.IsReady || mc.ReminderSentAt != nil {
				return errNoChange
			}
			for _, m := range st.ActiveMembers() {
				if mc.HasContributed(m.UserID) || mc.IsJoiner(m.UserID) {
					continue
				}
				eff.Notify(m.UserID, st.Community.ID, notification.KindReminder,
					"Reminder: contribute %s to %s before %s.",
					st.Community.Settings.MinContribution.StringFixed(2), st.Community.Name, mc.PayoutDate.Format(time.RFC1123))
			}
			stamp := e.clock()
			mc.ReminderSentAt = &stamp
			sent = true
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("community %d: %w", t.CommunityID, err))
			continue
		}
		if sent {
			reminded++
		}
	}
	return reminded, errors.Join(errs...)
}

// OpenTurns lists every incomplete turn for the scheduler.
func (e *Engine) OpenTurns(ctx context.Context) ([]community.OpenTurn, error) {
	return e.store.ListOpenTurns(ctx)
}

// Snapshot loads a community read-only.
func (e *Engine) Snapshot(ctx context.Context, communityID int64) (*community.State, error) {
	return e.store.Load(ctx, communityID)
}
