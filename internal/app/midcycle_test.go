package app

import (
	"context"
	"testing"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"
	"savings_circle/internal/domain/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatchUpAmount(t *testing.T) {
	tests := []struct {
		name        string
		missed      int
		memberCount int
		want        string
	}{
		{"nobody paid yet", 0, 5, "30"},
		{"few paid", 2, 5, "60"},
		{"exactly half", 2, 4, "60"},
		{"most paid", 3, 5, "54"},
		{"almost all paid", 4, 5, "96"},
		{"no members", 3, 0, "75"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CatchUpAmount(dec("30"), tt.missed, tt.memberCount)
			assert.True(t, got.Equal(dec(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestStartMidCycle(t *testing.T) {
	m := newTestManagers(newFakeWallets(nil))

	t.Run("picks the lowest unpaid position", func(t *testing.T) {
		st := newRunningState(4)
		st.MidCycles[0].IsComplete = true
		st.Cycles[0].PaidMembers = []int64{1}
		st.Member(2).Position = 4
		st.Member(4).Position = 2

		var eff Effects
		mc, err := m.midCycles.StartMidCycle(st, &eff)
		require.NoError(t, err)
		assert.Equal(t, int64(4), mc.NextInLine)
		assert.Equal(t, testNow.AddDate(0, 0, 7), mc.PayoutDate)
		assert.Equal(t, st.Cycles[0].ID, mc.CycleID)
		assert.Contains(t, st.Cycles[0].MidCycleIDs, mc.ID)
		assert.Contains(t, st.Community.MidCycleIDs, mc.ID)
		require.NotNil(t, eff.Schedule)
		assert.Equal(t, mc.PayoutDate, eff.Schedule.DueAt)
		assert.Len(t, eff.Notices, 4)
		for _, n := range eff.Notices {
			assert.Equal(t, notification.KindTurnStarted, n.Kind)
		}
	})

	t.Run("refuses while a turn is open", func(t *testing.T) {
		var eff Effects
		_, err := m.midCycles.StartMidCycle(newRunningState(3), &eff)
		assert.ErrorIs(t, err, community.ErrMidCycleStillOpen)
	})

	t.Run("refuses when everyone was paid", func(t *testing.T) {
		st := newRunningState(2)
		st.MidCycles[0].IsComplete = true
		st.Cycles[0].PaidMembers = []int64{1, 2}
		var eff Effects
		_, err := m.midCycles.StartMidCycle(st, &eff)
		assert.ErrorIs(t, err, community.ErrAllMembersPaid)
	})

	t.Run("needs a running cycle", func(t *testing.T) {
		st := newRunningState(2)
		st.MidCycles[0].IsComplete = true
		st.Cycles[0].IsComplete = true
		var eff Effects
		_, err := m.midCycles.StartMidCycle(st, &eff)
		assert.ErrorIs(t, err, community.ErrNoActiveCycle)
	})
}

func joinerState() *community.State {
	st := newRunningState(5)
	st.Cycles[0].PaidMembers = []int64{1, 2}
	st.OpenMidCycle().NextInLine = 3
	return st
}

func TestAddJoinerMidCycle(t *testing.T) {
	m := newTestManagers(newFakeWallets(map[int64]string{10: "100", 11: "10"}))
	ctx := context.Background()

	t.Run("prices the joiner and opens a plan", func(t *testing.T) {
		st := joinerState()
		var eff Effects
		member, err := m.midCycles.AddJoinerMidCycle(ctx, st, 10, &eff)
		require.NoError(t, err)

		assert.Equal(t, community.MemberActive, member.Status)
		assert.Equal(t, 6, member.Position)
		require.NotNil(t, member.PaymentPlan)
		assert.True(t, member.PaymentPlan.TotalOwed.Equal(dec("30")))
		assert.Equal(t, 2, member.PaymentPlan.Installments)
		assert.True(t, member.PaymentPlan.InstallmentAmount.Equal(dec("15")))

		owing := st.OwingFor(10)
		require.NotNil(t, owing)
		assert.True(t, owing.RemainingAmount.Equal(dec("30")))

		mc := st.OpenMidCycle()
		require.True(t, mc.IsJoiner(10))
		assert.True(t, mc.Joiners[0].RequiredAmount.Equal(dec("60")))
		assert.True(t, mc.HasContributed(10))
		assert.True(t, mc.PayoutAmount.Equal(dec("27")))

		require.Len(t, eff.Wallet, 1)
		assert.Equal(t, ledger.KindContribution, eff.Wallet[0].Tx.Kind)
		assert.True(t, eff.Wallet[0].Tx.Amount.Equal(dec("30")))
		require.Len(t, eff.Notices, 1)
		assert.Equal(t, notification.KindMemberJoined, eff.Notices[0].Kind)

		ready, _ := ValidateReadiness(st, mc, nil)
		assert.False(t, ready, "joiners do not count towards readiness")
	})

	t.Run("waits for the next cycle under cycle lock", func(t *testing.T) {
		st := joinerState()
		st.Community.Settings.CycleLock = true
		var eff Effects
		member, err := m.midCycles.AddJoinerMidCycle(ctx, st, 10, &eff)
		require.NoError(t, err)
		assert.Equal(t, community.MemberWaiting, member.Status)
		assert.Zero(t, member.Position)
	})

	t.Run("no plan when nobody was paid yet", func(t *testing.T) {
		st := newRunningState(5)
		var eff Effects
		member, err := m.midCycles.AddJoinerMidCycle(ctx, st, 10, &eff)
		require.NoError(t, err)
		assert.Nil(t, member.PaymentPlan)
		assert.Nil(t, st.OwingFor(10))
	})

	t.Run("rejects low and missing wallets", func(t *testing.T) {
		var eff Effects
		_, err := m.midCycles.AddJoinerMidCycle(ctx, joinerState(), 11, &eff)
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		_, err = m.midCycles.AddJoinerMidCycle(ctx, joinerState(), 12, &eff)
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	})

	t.Run("rejects existing members", func(t *testing.T) {
		var eff Effects
		_, err := m.midCycles.AddJoinerMidCycle(ctx, joinerState(), 4, &eff)
		assert.ErrorIs(t, err, community.ErrAlreadyMember)
	})

	t.Run("returning member keeps recorded debt", func(t *testing.T) {
		st := joinerState()
		left := &community.Member{
			CommunityID: st.Community.ID,
			UserID:      10,
			Status:      community.MemberInactive,
			Penalty:     dec("5"),
			MissedContributions: []community.MissedContribution{
				{CycleNumber: 1, Amount: dec("30")},
			},
		}
		st.Members = append(st.Members, left)

		var eff Effects
		member, err := m.midCycles.AddJoinerMidCycle(ctx, st, 10, &eff)
		require.NoError(t, err)
		assert.Same(t, left, member)
		assert.Equal(t, community.MemberActive, member.Status)
		assert.True(t, member.Penalty.Equal(dec("5")))
		require.Len(t, member.MissedContributions, 1)
		assert.Equal(t, 1, member.MissedContributions[0].CycleNumber)
	})
}

func TestHandleUnreadyMidCycleFreezesPaidDefaulters(t *testing.T) {
	m := newTestManagers(newFakeWallets(map[int64]string{2: "50", 4: "0"}))
	st := newRunningState(4)
	st.Cycles[0].PaidMembers = []int64{2}
	st.OpenMidCycle().NextInLine = 3
	contributeAll(st, 1, 3)

	var eff Effects
	penalized, err := m.midCycles.HandleUnreadyMidCycle(context.Background(), st, &eff)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, penalized)

	var frozen []int64
	for _, op := range eff.Wallet {
		if op.kind == walletFreeze {
			frozen = append(frozen, op.UserID())
		}
	}
	assert.Equal(t, []int64{2}, frozen)

	kinds := map[notification.Kind]int{}
	for _, n := range eff.Notices {
		kinds[n.Kind]++
	}
	assert.Equal(t, 2, kinds[notification.KindPenalty])
	assert.Equal(t, 1, kinds[notification.KindWalletFrozen])
	assert.Equal(t, []prometheus.Counter{penaltiesTotal, penaltiesTotal}, eff.counters, "penalties are counted on commit")

	again, err := m.midCycles.HandleUnreadyMidCycle(context.Background(), st, &eff)
	require.NoError(t, err)
	assert.Empty(t, again)
}
