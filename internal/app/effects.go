package app

import (
	"fmt"
	"time"

	"savings_circle/internal/domain/ledger"
	"savings_circle/internal/domain/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type walletOpKind int

const (
	walletApply walletOpKind = iota
	walletFreeze
	walletUnfreeze
)

// WalletOp is a ledger call deferred until the unit of work has saved its records.
type WalletOp struct {
	kind walletOpKind
	Tx   ledger.Transaction
	// BestEffort ops log and continue when the wallet is missing.
	BestEffort bool
}

func (op WalletOp) UserID() int64 { return op.Tx.UserID }

func (op WalletOp) String() string {
	switch op.kind {
	case walletFreeze:
		return fmt.Sprintf("freeze(user=%d)", op.Tx.UserID)
	case walletUnfreeze:
		return fmt.Sprintf("unfreeze(user=%d)", op.Tx.UserID)
	default:
		return fmt.Sprintf("%s(user=%d, amount=%s)", op.Tx.Kind, op.Tx.UserID, op.Tx.Amount)
	}
}

// ScheduleChange tells the payout scheduler about a new or removed due date.
type ScheduleChange struct {
	CommunityID int64
	DueAt       time.Time
	Cancel      bool
}

// Effects collects what a state transition wants done outside the aggregate.
// Wallet ops run inside the transaction after Save; notices, counters and
// schedule changes run after commit.
type Effects struct {
	Wallet   []WalletOp
	Notices  []notification.Notice
	Schedule *ScheduleChange

	counters []prometheus.Counter
}

// Count increments c once the unit of work commits. Retried or rolled back
// attempts leave it untouched.
func (e *Effects) Count(c prometheus.Counter) {
	e.counters = append(e.counters, c)
}

func (e *Effects) apply(userID, communityID int64, amount decimal.Decimal, kind ledger.Kind, description string, bestEffort bool) {
	cid := communityID
	e.Wallet = append(e.Wallet, WalletOp{
		kind: walletApply,
		Tx: ledger.Transaction{
			UserID:      userID,
			Amount:      amount,
			Kind:        kind,
			Description: description,
			CommunityID: &cid,
		},
		BestEffort: bestEffort,
	})
}

// Debit takes amount from the user's wallet.
func (e *Effects) Debit(userID, communityID int64, amount decimal.Decimal, kind ledger.Kind, description string) {
	e.apply(userID, communityID, amount, kind, description, false)
}

// Credit pays amount into the user's wallet.
func (e *Effects) Credit(userID, communityID int64, amount decimal.Decimal, kind ledger.Kind, description string) {
	e.apply(userID, communityID, amount, kind, description, false)
}

// CollectPenalty debits a defaulter; a missing wallet is tolerated.
func (e *Effects) CollectPenalty(userID, communityID int64, amount decimal.Decimal, description string) {
	e.apply(userID, communityID, amount, ledger.KindPenalty, description, true)
}

func (e *Effects) Freeze(userID int64) {
	e.Wallet = append(e.Wallet, WalletOp{kind: walletFreeze, Tx: ledger.Transaction{UserID: userID}, BestEffort: true})
}

func (e *Effects) Unfreeze(userID int64) {
	e.Wallet = append(e.Wallet, WalletOp{kind: walletUnfreeze, Tx: ledger.Transaction{UserID: userID}, BestEffort: true})
}

func (e *Effects) Notify(userID, communityID int64, kind notification.Kind, format string, args ...any) {
	e.Notices = append(e.Notices, notification.Notice{
		UserID:      userID,
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		CommunityID: communityID,
	})
}

// Reschedule replaces any queued payout job for the community.
func (e *Effects) Reschedule(communityID int64, due time.Time) {
	e.Schedule = &ScheduleChange{CommunityID: communityID, DueAt: due}
}

func (e *Effects) Unschedule(communityID int64) {
	e.Schedule = &ScheduleChange{CommunityID: communityID, Cancel: true}
}

// merge appends other's effects; a schedule change in other wins.
func (e *Effects) merge(other Effects) {
	e.Wallet = append(e.Wallet, other.Wallet...)
	e.Notices = append(e.Notices, other.Notices...)
	if other.Schedule != nil {
		e.Schedule = other.Schedule
	}
}
