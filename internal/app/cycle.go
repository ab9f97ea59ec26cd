package app

import (
	"context"
	"fmt"
	"time"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/notification"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CycleManager opens cycles: first-cycle bootstrap and every rotation after it.
type CycleManager struct {
	positions  *PositionAssigner
	midCycles  *MidCycleManager
	defaulters *DefaulterHandler
	votes      *VoteResolver
	clock      func() time.Time
	logger     *logrus.Entry
}

func NewCycleManager(positions *PositionAssigner, midCycles *MidCycleManager, defaulters *DefaulterHandler, votes *VoteResolver, clock func() time.Time, logger *logrus.Entry) *CycleManager {
	return &CycleManager{
		positions:  positions,
		midCycles:  midCycles,
		defaulters: defaulters,
		votes:      votes,
		clock:      clock,
		logger:     logger,
	}
}

// StartFirstCycle creates cycle 1, seats the administrator at position 1 and
// opens the first turn.
func (m *CycleManager) StartFirstCycle(ctx context.Context, st *community.State, eff *Effects) (*community.Cycle, error) {
	if len(st.Cycles) > 0 {
		return nil, community.ErrCyclesAlreadyStarted
	}
	active := st.ActiveMembers()
	if len(active) < st.Community.Settings.MinMembersToStart {
		return nil, fmt.Errorf("%w: have %d, need %d", community.ErrInsufficientMembers, len(active), st.Community.Settings.MinMembersToStart)
	}
	if err := m.positions.Assign(st, true); err != nil {
		return nil, err
	}
	return m.open(st, 1, eff)
}

// StartNewCycle closes out the finished rotation and opens the next one.
// A cycle that is still running is completed only when every active member
// has been paid; otherwise ErrCycleInProgress is returned.
func (m *CycleManager) StartNewCycle(ctx context.Context, st *community.State, eff *Effects) (*community.Cycle, error) {
	if len(st.Cycles) == 0 {
		return m.StartFirstCycle(ctx, st, eff)
	}

	now := m.clock()
	if current := st.ActiveCycle(); current != nil {
		if !rotationComplete(st, current) {
			return nil, fmt.Errorf("%w (cycle %d)", community.ErrCycleInProgress, current.CycleNumber)
		}
		if open := st.OpenMidCycle(); open != nil {
			return nil, fmt.Errorf("%w (mid-cycle %s)", community.ErrMidCycleStillOpen, open.ID)
		}
		current.IsComplete = true
		current.EndDate = &now
		m.logger.WithFields(logrus.Fields{
			"community_id": st.Community.ID,
			"cycle_number": current.CycleNumber,
		}).Info("Stalled cycle force-completed")
	}

	m.votes.Resolve(st)
	m.votes.Apply(st)

	if !st.Community.Settings.CycleLock {
		for _, member := range st.Members {
			if member.Status == community.MemberWaiting {
				member.Status = community.MemberActive
				member.UpdatedAt = now
			}
		}
	}
	if len(st.ActiveMembers()) < 2 {
		return nil, fmt.Errorf("%w: fewer than 2 active members", community.ErrInsufficientMembers)
	}
	if err := m.positions.Assign(st, false); err != nil {
		return nil, err
	}

	for _, member := range st.Members {
		if !member.HasDebt() {
			continue
		}
		if _, err := m.defaulters.Deduct(ctx, st, member, eff); err != nil {
			return nil, err
		}
	}

	return m.open(st, len(st.Cycles)+1, eff)
}

func (m *CycleManager) open(st *community.State, number int, eff *Effects) (*community.Cycle, error) {
	now := m.clock()
	cycle := &community.Cycle{
		ID:          uuid.New(),
		CommunityID: st.Community.ID,
		CycleNumber: number,
		StartDate:   now,
	}
	st.AddCycle(cycle)

	if _, err := m.midCycles.StartMidCycle(st, eff); err != nil {
		return nil, fmt.Errorf("failed to open first turn of cycle %d: %w", number, err)
	}

	for _, member := range st.ActiveMembers() {
		eff.Notify(member.UserID, st.Community.ID, notification.KindCycleStarted,
			"Cycle %d of %s has started. Your position is %d.", number, st.Community.Name, member.Position)
	}
	eff.Count(cyclesStartedTotal)
	m.logger.WithFields(logrus.Fields{
		"community_id": st.Community.ID,
		"cycle_number": number,
		"members":      len(st.ActiveMembers()),
	}).Info("Cycle started")
	return cycle, nil
}
