package memory

import (
	"context"
	"fmt"
	"sync"

	"savings_circle/internal/domain/ledger"

	"github.com/shopspring/decimal"
)

type wallet struct {
	balance decimal.Decimal
	frozen  bool
}

// Ledger is an in-memory wallet gateway. Writes join the memory unit of work
// carried by ctx and are reverted with it.
type Ledger struct {
	mu      sync.Mutex
	wallets map[int64]*wallet
	history []ledger.Transaction
}

func NewLedger() *Ledger {
	return &Ledger{wallets: make(map[int64]*wallet)}
}

// OpenWallet creates or resets a wallet with the given balance.
func (l *Ledger) OpenWallet(userID int64, balance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallets[userID] = &wallet{balance: balance}
}

func (l *Ledger) Balance(userID int64) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.wallets[userID]; ok {
		return w.balance
	}
	return decimal.Zero
}

func (l *Ledger) IsFrozen(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[userID]
	return ok && w.frozen
}

// Transactions returns every applied transaction in order.
func (l *Ledger) Transactions() []ledger.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Transaction(nil), l.history...)
}

func (l *Ledger) ApplyTransaction(ctx context.Context, tx ledger.Transaction) error {
	if !tx.Amount.IsPositive() {
		return fmt.Errorf("transaction amount must be positive, got %s", tx.Amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[tx.UserID]
	if !ok {
		return fmt.Errorf("%w: user %d", ledger.ErrWalletNotFound, tx.UserID)
	}
	if w.frozen && !tx.Kind.AllowedWhileFrozen() {
		return fmt.Errorf("%w: user %d", ledger.ErrFrozen, tx.UserID)
	}

	var counterparty *wallet
	if tx.Kind == ledger.KindTransfer && tx.CounterpartyID != nil {
		counterparty, ok = l.wallets[*tx.CounterpartyID]
		if !ok {
			return fmt.Errorf("%w: counterparty %d", ledger.ErrWalletNotFound, *tx.CounterpartyID)
		}
	}

	touched := map[*wallet]wallet{w: *w}
	if tx.Kind.IsDebit() {
		if w.balance.LessThan(tx.Amount) {
			return fmt.Errorf("%w: user %d has %s, needs %s", ledger.ErrInsufficientBalance, tx.UserID, w.balance, tx.Amount)
		}
		w.balance = w.balance.Sub(tx.Amount)
	} else {
		w.balance = w.balance.Add(tx.Amount)
	}
	if counterparty != nil {
		touched[counterparty] = *counterparty
		counterparty.balance = counterparty.balance.Add(tx.Amount)
	}
	historyLen := len(l.history)
	l.history = append(l.history, tx)

	l.onRollback(ctx, touched, historyLen)
	return nil
}

func (l *Ledger) AvailableBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: user %d", ledger.ErrWalletNotFound, userID)
	}
	return w.balance, nil
}

func (l *Ledger) Freeze(ctx context.Context, userID int64) error {
	return l.setFrozen(ctx, userID, true)
}

func (l *Ledger) Unfreeze(ctx context.Context, userID int64) error {
	return l.setFrozen(ctx, userID, false)
}

func (l *Ledger) setFrozen(ctx context.Context, userID int64, frozen bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[userID]
	if !ok {
		return fmt.Errorf("%w: user %d", ledger.ErrWalletNotFound, userID)
	}
	if w.frozen == frozen {
		return nil
	}
	touched := map[*wallet]wallet{w: *w}
	w.frozen = frozen
	l.onRollback(ctx, touched, len(l.history))
	return nil
}

// onRollback restores the touched wallets if the unit of work fails.
// Callers hold l.mu.
func (l *Ledger) onRollback(ctx context.Context, touched map[*wallet]wallet, historyLen int) {
	j := journalFrom(ctx)
	if j == nil {
		return
	}
	j.record(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for w, before := range touched {
			*w = before
		}
		if len(l.history) > historyLen {
			l.history = l.history[:historyLen]
		}
	})
}
