package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrFrozen              = errors.New("wallet is frozen")
	ErrWalletNotFound      = errors.New("wallet not found")
)

// Kind classifies a wallet transaction.
type Kind string

const (
	KindDeposit      Kind = "deposit"
	KindWithdrawal   Kind = "withdrawal"
	KindContribution Kind = "contribution"
	KindPenalty      Kind = "penalty"
	KindTransfer     Kind = "transfer"
	KindPayout       Kind = "payout"
	KindFixed        Kind = "fixed"
)

// IsDebit reports whether the kind takes money out of the user's wallet.
// Transfers debit the user and credit the counterparty.
func (k Kind) IsDebit() bool {
	switch k {
	case KindWithdrawal, KindContribution, KindPenalty, KindTransfer, KindFixed:
		return true
	}
	return false
}

// AllowedWhileFrozen reports whether a frozen wallet still accepts the kind.
// Penalty collection and incoming credits are system driven.
func (k Kind) AllowedWhileFrozen() bool {
	return k == KindPenalty || !k.IsDebit()
}

// Transaction is one balance movement requested by the engine.
type Transaction struct {
	UserID         int64
	Amount         decimal.Decimal // always positive; direction comes from Kind
	Kind           Kind
	Description    string
	CounterpartyID *int64
	CommunityID    *int64
}

// Gateway is the wallet ledger collaborator.
type Gateway interface {
	ApplyTransaction(ctx context.Context, tx Transaction) error
	// AvailableBalance is only used to pre-check a debit.
	AvailableBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Freeze(ctx context.Context, userID int64) error
	Unfreeze(ctx context.Context, userID int64) error
}
