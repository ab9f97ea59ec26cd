package database

import (
	"context"
	"database/sql"
	"fmt"

	"savings_circle/internal/domain/ledger"

	"github.com/shopspring/decimal"
)

// PostgresWalletLedger implements the ledger gateway on the wallets tables.
// Calls made inside WithinTx share the unit of work's transaction.
type PostgresWalletLedger struct {
	db *sql.DB
}

func NewPostgresWalletLedger(db *sql.DB) *PostgresWalletLedger {
	return &PostgresWalletLedger{db: db}
}

func (l *PostgresWalletLedger) ApplyTransaction(ctx context.Context, tx ledger.Transaction) error {
	if !tx.Amount.IsPositive() {
		return fmt.Errorf("transaction amount must be positive, got %s", tx.Amount)
	}
	q := conn(ctx, l.db)

	var balance decimal.Decimal
	var frozen bool
	err := q.QueryRowContext(ctx, `SELECT balance, frozen FROM wallets WHERE user_id = $1 FOR UPDATE`, tx.UserID).Scan(&balance, &frozen)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: user %d", ledger.ErrWalletNotFound, tx.UserID)
		}
		return fmt.Errorf("error locking wallet: %w", err)
	}
	if frozen && !tx.Kind.AllowedWhileFrozen() {
		return fmt.Errorf("%w: user %d", ledger.ErrFrozen, tx.UserID)
	}

	delta := tx.Amount
	if tx.Kind.IsDebit() {
		if balance.LessThan(tx.Amount) {
			return fmt.Errorf("%w: user %d has %s, needs %s", ledger.ErrInsufficientBalance, tx.UserID, balance, tx.Amount)
		}
		delta = tx.Amount.Neg()
	}
	if _, err := q.ExecContext(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE user_id = $2`, delta, tx.UserID); err != nil {
		return fmt.Errorf("error updating wallet balance: %w", err)
	}

	if tx.Kind == ledger.KindTransfer && tx.CounterpartyID != nil {
		res, err := q.ExecContext(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE user_id = $2`, tx.Amount, *tx.CounterpartyID)
		if err != nil {
			return fmt.Errorf("error crediting counterparty: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: counterparty %d", ledger.ErrWalletNotFound, *tx.CounterpartyID)
		}
	}

	query := `INSERT INTO wallet_transactions (user_id, amount, kind, description, counterparty_id, community_id)
              VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := q.ExecContext(ctx, query, tx.UserID, tx.Amount, string(tx.Kind), tx.Description, tx.CounterpartyID, tx.CommunityID); err != nil {
		return fmt.Errorf("error recording wallet transaction: %w", err)
	}
	return nil
}

func (l *PostgresWalletLedger) AvailableBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := conn(ctx, l.db).QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, fmt.Errorf("%w: user %d", ledger.ErrWalletNotFound, userID)
		}
		return decimal.Zero, fmt.Errorf("error getting wallet balance: %w", err)
	}
	return balance, nil
}

func (l *PostgresWalletLedger) Freeze(ctx context.Context, userID int64) error {
	return l.setFrozen(ctx, userID, true)
}

func (l *PostgresWalletLedger) Unfreeze(ctx context.Context, userID int64) error {
	return l.setFrozen(ctx, userID, false)
}

func (l *PostgresWalletLedger) setFrozen(ctx context.Context, userID int64, frozen bool) error {
	res, err := conn(ctx, l.db).ExecContext(ctx, `UPDATE wallets SET frozen = $1, updated_at = NOW() WHERE user_id = $2`, frozen, userID)
	if err != nil {
		return fmt.Errorf("error updating wallet freeze state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: user %d", ledger.ErrWalletNotFound, userID)
	}
	return nil
}

// Deposit credits a wallet, creating it when missing.
func (l *PostgresWalletLedger) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	query := `INSERT INTO wallets (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`
	if _, err := conn(ctx, l.db).ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("error opening wallet: %w", err)
	}
	return l.ApplyTransaction(ctx, ledger.Transaction{UserID: userID, Amount: amount, Kind: ledger.KindDeposit, Description: "Deposit"})
}
