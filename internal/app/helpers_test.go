package app

import (
	"context"
	"io"
	"time"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var testNow = time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// identityShuffle leaves slots in order, making positions deterministic.
func identityShuffle(int, func(i, j int)) {}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeWallets struct {
	balances map[int64]decimal.Decimal
	frozen   map[int64]bool
	applied  []ledger.Transaction
}

func newFakeWallets(balances map[int64]string) *fakeWallets {
	w := &fakeWallets{balances: map[int64]decimal.Decimal{}, frozen: map[int64]bool{}}
	for id, b := range balances {
		w.balances[id] = dec(b)
	}
	return w
}

func (w *fakeWallets) ApplyTransaction(_ context.Context, tx ledger.Transaction) error {
	b, ok := w.balances[tx.UserID]
	if !ok {
		return ledger.ErrWalletNotFound
	}
	if tx.Kind.IsDebit() {
		if b.LessThan(tx.Amount) {
			return ledger.ErrInsufficientBalance
		}
		w.balances[tx.UserID] = b.Sub(tx.Amount)
	} else {
		w.balances[tx.UserID] = b.Add(tx.Amount)
	}
	w.applied = append(w.applied, tx)
	return nil
}

func (w *fakeWallets) AvailableBalance(_ context.Context, userID int64) (decimal.Decimal, error) {
	b, ok := w.balances[userID]
	if !ok {
		return decimal.Zero, ledger.ErrWalletNotFound
	}
	return b, nil
}

func (w *fakeWallets) Freeze(_ context.Context, userID int64) error {
	if _, ok := w.balances[userID]; !ok {
		return ledger.ErrWalletNotFound
	}
	w.frozen[userID] = true
	return nil
}

func (w *fakeWallets) Unfreeze(_ context.Context, userID int64) error {
	if _, ok := w.balances[userID]; !ok {
		return ledger.ErrWalletNotFound
	}
	w.frozen[userID] = false
	return nil
}

func testSettings() community.Settings {
	return community.Settings{
		ContributionFrequency: community.FrequencyWeekly,
		MinContribution:       dec("30"),
		BackupFundPercentage:  dec("10"),
		PenaltyAmount:         dec("5"),
		MinMembersToStart:     3,
		Positioning:           community.PositioningFixed,
	}
}

// newRunningState builds community 1 with members 1..n at positions 1..n,
// cycle 1 running and a turn open for member 1.
func newRunningState(n int) *community.State {
	st := &community.State{
		Community: &community.Community{
			ID:                1,
			Name:              "Test circle",
			AdminUserID:       1,
			Settings:          testSettings(),
			TotalContributed:  decimal.Zero,
			TotalDistributed:  decimal.Zero,
			BackupFundBalance: decimal.Zero,
			Version:           1,
		},
	}
	for i := 1; i <= n; i++ {
		st.Members = append(st.Members, &community.Member{
			CommunityID: 1,
			UserID:      int64(i),
			Position:    i,
			Status:      community.MemberActive,
			Penalty:     decimal.Zero,
		})
	}
	cycle := &community.Cycle{ID: uuid.New(), CommunityID: 1, CycleNumber: 1, StartDate: testNow}
	st.AddCycle(cycle)
	mc := &community.MidCycle{
		ID:                        uuid.New(),
		CommunityID:               1,
		CycleID:                   cycle.ID,
		CycleNumber:               1,
		Contributions:             map[int64][]uuid.UUID{},
		ContributionsToNextInLine: community.NewAmountMap(),
		NextInLine:                1,
		PayoutAmount:              decimal.Zero,
		BackupFundCut:             decimal.Zero,
		PayoutDate:                testNow.AddDate(0, 0, 7),
		StartedAt:                 testNow,
	}
	st.AddMidCycle(mc, cycle)
	return st
}

// contributeAll records a minimum contribution for each listed member.
func contributeAll(st *community.State, userIDs ...int64) {
	mc := st.OpenMidCycle()
	for _, id := range userIDs {
		RecordContribution(st, mc, id, uuid.New(), st.Community.Settings.MinContribution)
	}
}

type testManagers struct {
	wallets    *fakeWallets
	defaulters *DefaulterHandler
	midCycles  *MidCycleManager
	votes      *VoteResolver
	cycles     *CycleManager
	payouts    *PayoutDistributor
}

func newTestManagers(wallets *fakeWallets) testManagers {
	log := quietLogger()
	defaulters := NewDefaulterHandler(wallets, log)
	midCycles := NewMidCycleManager(wallets, defaulters, fixedClock, log)
	votes := NewVoteResolver(fixedClock, log)
	cycles := NewCycleManager(NewPositionAssigner(identityShuffle), midCycles, defaulters, votes, fixedClock, log)
	return testManagers{
		wallets:    wallets,
		defaulters: defaulters,
		midCycles:  midCycles,
		votes:      votes,
		cycles:     cycles,
		payouts:    NewPayoutDistributor(midCycles, cycles, fixedClock, log),
	}
}
