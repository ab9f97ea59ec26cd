package app

import (
	"context"
	"errors"
	"fmt"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"
	"savings_circle/internal/domain/notification"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaulterHandler enforces penalties on members who missed contributions.
type DefaulterHandler struct {
	wallets ledger.Gateway
	logger  *logrus.Entry
}

func NewDefaulterHandler(wallets ledger.Gateway, logger *logrus.Entry) *DefaulterHandler {
	return &DefaulterHandler{wallets: wallets, logger: logger}
}

// Freeze blocks the member's wallet when it holds funds. No money moves.
func (h *DefaulterHandler) Freeze(ctx context.Context, st *community.State, member *community.Member, eff *Effects) error {
	log := h.logger.WithFields(logrus.Fields{"community_id": st.Community.ID, "user_id": member.UserID})

	balance, err := h.wallets.AvailableBalance(ctx, member.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			log.Warn("Defaulter has no wallet, skipping freeze")
			return nil
		}
		return fmt.Errorf("failed to read balance of defaulter %d: %w", member.UserID, err)
	}
	if balance.IsZero() {
		return nil
	}

	eff.Freeze(member.UserID)
	eff.Notify(member.UserID, st.Community.ID, notification.KindWalletFrozen,
		"Your wallet has been frozen because you received a payout and then missed a contribution. Outstanding: %s.",
		member.PenaltyTotal().StringFixed(2))
	log.Info("Defaulter wallet scheduled for freeze")
	return nil
}

// Deduct collects standing penalty plus missed contributions from the wallet
// into the backup fund. The uncollected remainder becomes the new standing
// penalty; the missed-contribution list is always cleared.
func (h *DefaulterHandler) Deduct(ctx context.Context, st *community.State, member *community.Member, eff *Effects) (decimal.Decimal, error) {
	log := h.logger.WithFields(logrus.Fields{"community_id": st.Community.ID, "user_id": member.UserID})

	total := member.PenaltyTotal()
	if !total.IsPositive() {
		member.ConsolidatePenalty(decimal.Zero)
		return decimal.Zero, nil
	}

	balance, err := h.wallets.AvailableBalance(ctx, member.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			log.WithField("outstanding", total.String()).Warn("Defaulter has no wallet, penalty carried forward")
			member.ConsolidatePenalty(total)
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to read balance of defaulter %d: %w", member.UserID, err)
	}

	deducted := decimal.Min(total, balance)
	if deducted.IsNegative() {
		deducted = decimal.Zero
	}
	remaining := total.Sub(deducted)
	member.ConsolidatePenalty(remaining)

	if deducted.IsPositive() {
		eff.CollectPenalty(member.UserID, st.Community.ID, deducted, "Penalty and missed contributions")
		st.Community.AddToBackupFund(deducted)
		eff.Unfreeze(member.UserID)
	}
	if remaining.IsPositive() {
		eff.Notify(member.UserID, st.Community.ID, notification.KindDebt,
			"We collected %s towards your penalties. %s is still outstanding.",
			deducted.StringFixed(2), remaining.StringFixed(2))
	}

	log.WithFields(logrus.Fields{
		"deducted":  deducted.String(),
		"remaining": remaining.String(),
	}).Info("Defaulter penalty deducted")
	return deducted, nil
}
