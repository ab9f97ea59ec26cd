// internal/domain/notification/notifier.go
package notification

import (
	"context"
	"errors"
)

// Kind identifies what a notice is about.
type Kind string

const (
	KindPayout       Kind = "PAYOUT"
	KindPenalty      Kind = "PENALTY"
	KindDebt         Kind = "DEBT"
	KindWalletFrozen Kind = "WALLET_FROZEN"
	KindReminder     Kind = "CONTRIBUTION_REMINDER"
	KindCycleStarted Kind = "CYCLE_STARTED"
	KindTurnStarted  Kind = "TURN_STARTED"
	KindTurnReady    Kind = "TURN_READY"
	KindMemberJoined Kind = "MEMBER_JOINED"
)

// Notice is one message for one user.
type Notice struct {
	UserID      int64
	Kind        Kind
	Message     string
	CommunityID int64
}

// Notifier delivers notices. Delivery is fire-and-forget for the engine:
// a returned error is logged, never propagated into a transaction.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Broadcast fans a notice out to several notifiers.
type Broadcast []Notifier

func (b Broadcast) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, target := range b {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
