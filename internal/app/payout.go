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

// PayoutResult describes one distributed turn.
type PayoutResult struct {
	MidCycleID      uuid.UUID
	RecipientID     int64
	CycleNumber     int
	PayoutAmount    decimal.Decimal
	PenaltyWithheld decimal.Decimal
	NetPayout       decimal.Decimal
	Redirected      bool // recipient was not active; the pot went to the backup fund
	CycleComplete   bool
	NextCycleNumber int        // set when a new cycle was opened
	NextMidCycleID  *uuid.UUID // set when another turn was opened
}

// PayoutDistributor moves a ready turn through distribution and opens
// whatever comes next in the rotation.
type PayoutDistributor struct {
	midCycles *MidCycleManager
	cycles    *CycleManager
	clock     func() time.Time
	logger    *logrus.Entry
}

func NewPayoutDistributor(midCycles *MidCycleManager, cycles *CycleManager, clock func() time.Time, logger *logrus.Entry) *PayoutDistributor {
	return &PayoutDistributor{midCycles: midCycles, cycles: cycles, clock: clock, logger: logger}
}

// Distribute pays out the ready open turn. Any error leaves st unusable and
// must abort the unit of work.
func (d *PayoutDistributor) Distribute(ctx context.Context, st *community.State, eff *Effects) (*PayoutResult, error) {
	mc := st.OpenMidCycle()
	if mc == nil || !mc.IsReady {
		return nil, community.ErrNoReadyMidCycle
	}
	recipient := st.Member(mc.NextInLine)
	if recipient == nil {
		return nil, fmt.Errorf("%w: recipient %d of mid-cycle %s", community.ErrMemberNotFound, mc.NextInLine, mc.ID)
	}

	now := d.clock()
	c := st.Community
	log := d.logger.WithFields(logrus.Fields{
		"community_id": c.ID,
		"mid_cycle_id": mc.ID,
		"recipient_id": recipient.UserID,
	})

	res := &PayoutResult{
		MidCycleID:      mc.ID,
		RecipientID:     recipient.UserID,
		CycleNumber:     mc.CycleNumber,
		PayoutAmount:    mc.PayoutAmount,
		PenaltyWithheld: decimal.Zero,
	}
	net := mc.PayoutAmount

	if !recipient.IsActive() {
		c.AddToBackupFund(mc.PayoutAmount)
		net = decimal.Zero
		res.Redirected = true
		log.WithField("status", recipient.Status).Warn("Recipient is not active, payout redirected to backup fund")
	} else if penalty := recipient.PenaltyTotal(); penalty.IsPositive() {
		if mc.PayoutAmount.GreaterThanOrEqual(penalty) {
			net = mc.PayoutAmount.Sub(penalty)
			c.AddToBackupFund(penalty)
			recipient.ConsolidatePenalty(decimal.Zero)
			res.PenaltyWithheld = penalty
			eff.Unfreeze(recipient.UserID)
		} else {
			shortfall := penalty.Sub(mc.PayoutAmount)
			c.AddToBackupFund(mc.PayoutAmount)
			net = decimal.Zero
			recipient.ConsolidatePenalty(shortfall)
			res.PenaltyWithheld = mc.PayoutAmount
			eff.Notify(recipient.UserID, c.ID, notification.KindDebt,
				"Your payout of %s was withheld against penalties. %s is still outstanding.",
				mc.PayoutAmount.StringFixed(2), shortfall.StringFixed(2))
		}
		recipient.UpdatedAt = now
	}
	res.NetPayout = net

	if net.IsPositive() {
		payout := &community.Payout{
			ID:          uuid.New(),
			CommunityID: c.ID,
			RecipientID: recipient.UserID,
			Amount:      net,
			CycleID:     mc.CycleID,
			MidCycleID:  mc.ID,
			CreatedAt:   now,
		}
		st.NewPayouts = append(st.NewPayouts, payout)
		eff.Credit(recipient.UserID, c.ID, net, ledger.KindPayout,
			fmt.Sprintf("Payout for cycle %d of %s", mc.CycleNumber, c.Name))
		c.TotalDistributed = c.TotalDistributed.Add(net)
		eff.Notify(recipient.UserID, c.ID, notification.KindPayout,
			"You received %s from %s.", net.StringFixed(2), c.Name)
	}

	mc.IsComplete = true
	mc.CompletedAt = &now

	cycle := st.CycleByID(mc.CycleID)
	if cycle == nil {
		cycle = st.CycleByNumber(mc.CycleNumber)
		if cycle == nil {
			return nil, fmt.Errorf("%w: mid-cycle %s has no cycle %d", community.ErrOrphanedMidCycle, mc.ID, mc.CycleNumber)
		}
		mc.CycleID = cycle.ID
		log.WithField("cycle_number", cycle.CycleNumber).Warn("Mid-cycle re-linked to its cycle by number")
	}
	if cycle.LinkMidCycle(mc.ID) {
		log.Warn("Mid-cycle was missing from its cycle's list, re-linked")
	}
	if recipient.IsActive() {
		cycle.MarkPaid(recipient.UserID)
	}

	c.LastPayout = &community.PayoutSummary{
		RecipientID:   recipient.UserID,
		Amount:        net,
		CycleNumber:   mc.CycleNumber,
		DistributedAt: now,
	}
	eff.Count(payoutsTotal.WithLabelValues(payoutOutcome(res)))

	if rotationComplete(st, cycle) {
		cycle.IsComplete = true
		cycle.EndDate = &now
		res.CycleComplete = true
		log.WithField("cycle_number", cycle.CycleNumber).Info("Cycle complete")

		if err := d.openNextCycle(ctx, st, eff, res); err != nil {
			return nil, err
		}
	} else {
		next, err := d.midCycles.StartMidCycle(st, eff)
		if err != nil {
			return nil, fmt.Errorf("failed to open next turn: %w", err)
		}
		res.NextMidCycleID = &next.ID
	}

	log.WithFields(logrus.Fields{
		"payout_amount":  res.PayoutAmount.String(),
		"net_payout":     net.String(),
		"withheld":       res.PenaltyWithheld.String(),
		"redirected":     res.Redirected,
		"cycle_complete": res.CycleComplete,
	}).Info("Payout distributed")
	return res, nil
}

// openNextCycle starts the following cycle on a scratch copy so that a
// community too small to continue still keeps its completed payout.
func (d *PayoutDistributor) openNextCycle(ctx context.Context, st *community.State, eff *Effects, res *PayoutResult) error {
	next := st.Clone()
	var nextEff Effects
	cycle, err := d.cycles.StartNewCycle(ctx, next, &nextEff)
	if err != nil {
		if errors.Is(err, community.ErrInsufficientMembers) {
			d.logger.WithField("community_id", st.Community.ID).Warn("Not enough active members to open the next cycle, rotation paused")
			eff.Unschedule(st.Community.ID)
			return nil
		}
		return fmt.Errorf("failed to open next cycle: %w", err)
	}
	*st = *next
	eff.merge(nextEff)
	res.NextCycleNumber = cycle.CycleNumber
	if mc := st.OpenMidCycle(); mc != nil {
		res.NextMidCycleID = &mc.ID
	}
	return nil
}

// rotationComplete reports whether every active member is in the cycle's paid list.
func rotationComplete(st *community.State, cycle *community.Cycle) bool {
	for _, m := range st.ActiveMembers() {
		if !cycle.HasPaid(m.UserID) {
			return false
		}
	}
	return true
}

func payoutOutcome(res *PayoutResult) string {
	switch {
	case res.Redirected:
		return "redirected"
	case res.NetPayout.IsZero():
		return "withheld"
	case res.PenaltyWithheld.IsPositive():
		return "netted"
	default:
		return "paid"
	}
}
