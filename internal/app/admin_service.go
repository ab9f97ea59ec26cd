package app

import (
	"context"
	"fmt"

	"savings_circle/internal/domain/community"
)

// AdminService runs administrator-only operations, authorised against the
// community's AdminUserID.
type AdminService struct {
	engine *Engine
}

func NewAdminService(engine *Engine) *AdminService {
	return &AdminService{engine: engine}
}

func (s *AdminService) authorize(ctx context.Context, performingUserID, communityID int64) error {
	st, err := s.engine.Snapshot(ctx, communityID)
	if err != nil {
		return err
	}
	if st.Community.AdminUserID != performingUserID {
		return ErrAdminNotAuthorized
	}
	return nil
}

// StartCycle starts the first cycle, or the next one once the current rotation is done.
func (s *AdminService) StartCycle(ctx context.Context, performingUserID, communityID int64) (*community.Cycle, error) {
	if err := s.authorize(ctx, performingUserID, communityID); err != nil {
		return nil, err
	}
	cycle, err := s.engine.StartNewCycle(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to start cycle: %w", err)
	}
	return cycle, nil
}

// ForcePayout distributes the open turn now. An unready turn is penalised first.
func (s *AdminService) ForcePayout(ctx context.Context, performingUserID, communityID int64) (*PayoutResult, error) {
	if err := s.authorize(ctx, performingUserID, communityID); err != nil {
		return nil, err
	}
	var res *PayoutResult
	err := s.engine.coord.Execute(ctx, "force_payout", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		res = nil
		mc := st.OpenMidCycle()
		if mc == nil {
			return community.ErrNoOpenMidCycle
		}
		if !mc.IsReady {
			if _, err := s.engine.midCycles.HandleUnreadyMidCycle(ctx, st, eff); err != nil {
				return err
			}
		}
		r, err := s.engine.payouts.Distribute(ctx, st, eff)
		res = r
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to force payout: %w", err)
	}
	return res, nil
}

// RemoveMember deactivates a member regardless of outstanding penalties.
// Their debt stays on record.
func (s *AdminService) RemoveMember(ctx context.Context, performingUserID, communityID, userID int64) error {
	if err := s.authorize(ctx, performingUserID, communityID); err != nil {
		return err
	}
	if userID == performingUserID {
		return ErrAdminCannotLeave
	}
	return s.engine.coord.Execute(ctx, "remove_member", communityID, func(ctx context.Context, st *community.State, eff *Effects) error {
		return s.engine.deactivate(st, userID, true, eff)
	})
}
