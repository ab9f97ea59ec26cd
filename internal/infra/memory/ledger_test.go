package memory

import (
	"context"
	"errors"
	"testing"

	"savings_circle/internal/domain/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestLedgerApplyTransaction(t *testing.T) {
	l := NewLedger()
	l.OpenWallet(1, amt(100))
	l.OpenWallet(2, amt(0))
	ctx := context.Background()

	require.NoError(t, l.ApplyTransaction(ctx, ledger.Transaction{UserID: 1, Amount: amt(30), Kind: ledger.KindContribution}))
	require.NoError(t, l.ApplyTransaction(ctx, ledger.Transaction{UserID: 2, Amount: amt(27), Kind: ledger.KindPayout}))
	assert.True(t, l.Balance(1).Equal(amt(70)))
	assert.True(t, l.Balance(2).Equal(amt(27)))

	to := int64(2)
	require.NoError(t, l.ApplyTransaction(ctx, ledger.Transaction{UserID: 1, Amount: amt(20), Kind: ledger.KindTransfer, CounterpartyID: &to}))
	assert.True(t, l.Balance(1).Equal(amt(50)))
	assert.True(t, l.Balance(2).Equal(amt(47)))
	assert.Len(t, l.Transactions(), 3)

	err := l.ApplyTransaction(ctx, ledger.Transaction{UserID: 1, Amount: amt(51), Kind: ledger.KindWithdrawal})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	err = l.ApplyTransaction(ctx, ledger.Transaction{UserID: 9, Amount: amt(1), Kind: ledger.KindDeposit})
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)
	err = l.ApplyTransaction(ctx, ledger.Transaction{UserID: 1, Amount: amt(0), Kind: ledger.KindDeposit})
	assert.Error(t, err)

	_, err = l.AvailableBalance(ctx, 9)
	assert.ErrorIs(t, err, ledger.ErrWalletNotFound)
}

func TestLedgerFrozenWallet(t *testing.T) {
	l := NewLedger()
	l.OpenWallet(1, amt(100))
	ctx := context.Background()

	require.NoError(t, l.Freeze(ctx, 1))
	assert.True(t, l.IsFrozen(1))

	err := l.ApplyTransaction(ctx, ledger.Transaction{UserID: 1, Amount: amt(30), Kind: ledger.KindContribution})
	assert.ErrorIs(t, err, ledger.ErrFrozen)
	require.NoError(t, l.ApplyTransaction(ctx, ledger.Transaction{UserID: 1, Amount: amt(35), Kind: ledger.KindPenalty}))
	require.NoError(t, l.ApplyTransaction(ctx, ledger.Transaction{UserID: 1, Amount: amt(10), Kind: ledger.KindPayout}))
	assert.True(t, l.Balance(1).Equal(amt(75)))

	require.NoError(t, l.Unfreeze(ctx, 1))
	assert.False(t, l.IsFrozen(1))
	assert.ErrorIs(t, l.Freeze(ctx, 7), ledger.ErrWalletNotFound)
}

func TestLedgerJoinsStoreRollback(t *testing.T) {
	l := NewLedger()
	l.OpenWallet(1, amt(100))

	err := WithinTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, l.ApplyTransaction(ctx, ledger.Transaction{UserID: 1, Amount: amt(30), Kind: ledger.KindContribution}))
		require.NoError(t, l.Freeze(ctx, 1))
		return errors.New("save failed")
	})
	require.Error(t, err)
	assert.True(t, l.Balance(1).Equal(amt(100)))
	assert.False(t, l.IsFrozen(1))
	assert.Empty(t, l.Transactions())
}
