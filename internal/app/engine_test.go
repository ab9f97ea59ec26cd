package app_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"savings_circle/internal/app"
	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"
	"savings_circle/internal/domain/notification"
	"savings_circle/internal/infra/memory"
	"savings_circle/internal/infra/scheduler"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type inbox struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (i *inbox) Notify(_ context.Context, n notification.Notice) error {
	i.mu.Lock()
	i.notices = append(i.notices, n)
	i.mu.Unlock()
	return nil
}

func (i *inbox) count(kind notification.Kind) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, notice := range i.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	engine *app.Engine
	admin  *app.AdminService
	store  *memory.Store
	ledger *memory.Ledger
	queue  *scheduler.PayoutQueue
	jobs   *memory.JobStore
	clock  *testClock
	inbox  *inbox
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newHarness(t *testing.T, balances map[int64]string) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		store:  memory.NewStore(),
		ledger: memory.NewLedger(),
		jobs:   memory.NewJobStore(),
		clock:  &testClock{now: time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)},
		inbox:  &inbox{},
	}
	for id, b := range balances {
		h.ledger.OpenWallet(id, d(b))
	}
	h.queue = scheduler.NewPayoutQueue(h.jobs)
	h.engine = app.NewEngine(app.EngineDeps{
		Store:          h.store,
		Wallets:        h.ledger,
		Notifier:       h.inbox,
		Clock:          h.clock.Now,
		Shuffle:        func(int, func(i, j int)) {},
		TxRetry:        app.RetryPolicy{Attempts: 3},
		ReminderWindow: 24 * time.Hour,
		Logger:         logger,
	})
	h.engine.SetScheduler(h.queue)
	h.admin = app.NewAdminService(h.engine)
	return h
}

func circleSettings() community.Settings {
	return community.Settings{
		ContributionFrequency: community.FrequencyWeekly,
		MinContribution:       d("30"),
		BackupFundPercentage:  d("10"),
		PenaltyAmount:         d("5"),
		MinMembersToStart:     3,
		Positioning:           community.PositioningFixed,
	}
}

// startedCircle creates a circle run by user 10 with members 20 and 30.
func (h *harness) startedCircle(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	c, err := h.engine.CreateCommunity(ctx, 10, "Neighbours", circleSettings())
	require.NoError(t, err)
	for _, id := range []int64{20, 30} {
		_, err := h.engine.JoinCommunity(ctx, c.ID, id)
		require.NoError(t, err)
	}
	return c.ID
}

func (h *harness) contribute(t *testing.T, cid int64, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := h.engine.Contribute(context.Background(), cid, id, d("30"))
		require.NoError(t, err, "user %d", id)
	}
}

func TestEngineRotation(t *testing.T) {
	h := newHarness(t, map[int64]string{10: "500", 20: "500", 30: "500"})
	ctx := context.Background()
	cid := h.startedCircle(t)

	st, err := h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	require.Len(t, st.Cycles, 1)
	mc := st.OpenMidCycle()
	require.NotNil(t, mc)
	assert.Equal(t, int64(10), mc.NextInLine)
	due, ok := h.queue.NextDue()
	require.True(t, ok)
	assert.Equal(t, mc.PayoutDate, due)
	assert.Equal(t, 3, h.inbox.count(notification.KindCycleStarted))

	h.contribute(t, cid, 10, 20, 30)
	assert.Equal(t, 1, h.inbox.count(notification.KindTurnReady))
	assert.Len(t, h.store.Contributions(cid), 3)

	res, err := h.engine.ProcessDuePayout(ctx, cid)
	require.NoError(t, err)
	assert.Nil(t, res, "a turn that is not due is left alone")

	h.clock.Advance(7 * 24 * time.Hour)
	res, err = h.engine.ProcessDuePayout(ctx, cid)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int64(10), res.RecipientID)
	assert.True(t, res.NetPayout.Equal(d("81")))
	assert.True(t, h.ledger.Balance(10).Equal(d("551")))
	require.Len(t, h.store.Payouts(cid), 1)

	st, err = h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	assert.True(t, st.Community.BackupFundBalance.Equal(d("9")))
	next := st.OpenMidCycle()
	require.NotNil(t, next)
	assert.Equal(t, int64(20), next.NextInLine)
	due, ok = h.queue.NextDue()
	require.True(t, ok)
	assert.Equal(t, next.PayoutDate, due)

	// Second turn: a reminder a day before, then user 30 defaults.
	h.clock.Advance(6*24*time.Hour + time.Hour)
	reminded, err := h.engine.SendContributionReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reminded)
	assert.Equal(t, 3, h.inbox.count(notification.KindReminder))
	reminded, err = h.engine.SendContributionReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, reminded)

	h.contribute(t, cid, 10, 20)
	h.clock.Advance(23 * time.Hour)
	res, err = h.engine.ProcessDuePayout(ctx, cid)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int64(20), res.RecipientID)
	assert.True(t, res.NetPayout.Equal(d("54")))
	assert.Equal(t, 1, h.inbox.count(notification.KindPenalty))

	st, err = h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	defaulter := st.Member(30)
	assert.True(t, defaulter.Penalty.Equal(d("5")))
	require.Len(t, defaulter.MissedContributions, 1)
	assert.True(t, defaulter.PenaltyTotal().Equal(d("35")))

	err = h.engine.LeaveCommunity(ctx, cid, 30)
	assert.ErrorIs(t, err, community.ErrMemberIsRecipient)
	err = h.engine.LeaveCommunity(ctx, cid, 10)
	assert.ErrorIs(t, err, app.ErrAdminCannotLeave)

	// Third turn pays user 30 net of what they owe and closes cycle 1.
	h.contribute(t, cid, 10, 20, 30)
	h.clock.Advance(7 * 24 * time.Hour)
	res, err = h.engine.ProcessDuePayout(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.RecipientID)
	assert.True(t, res.PenaltyWithheld.Equal(d("35")))
	assert.True(t, res.NetPayout.Equal(d("46")))
	assert.True(t, res.CycleComplete)
	assert.Equal(t, 2, res.NextCycleNumber)

	st, err = h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	assert.False(t, st.Member(30).HasDebt())
	require.NotNil(t, st.ActiveCycle())
	assert.Equal(t, 2, st.ActiveCycle().CycleNumber)
}

func TestEngineMidCycleJoinAndLeave(t *testing.T) {
	h := newHarness(t, map[int64]string{10: "500", 20: "500", 30: "500", 40: "100"})
	ctx := context.Background()
	cid := h.startedCircle(t)

	member, err := h.engine.JoinCommunity(ctx, cid, 40)
	require.NoError(t, err)
	assert.Equal(t, community.MemberActive, member.Status)
	assert.Equal(t, 4, member.Position)
	assert.True(t, h.ledger.Balance(40).Equal(d("70")))

	_, err = h.engine.JoinCommunity(ctx, cid, 40)
	assert.ErrorIs(t, err, community.ErrAlreadyMember)

	h.contribute(t, cid, 10, 20, 30)
	st, err := h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	mc := st.OpenMidCycle()
	assert.True(t, mc.IsReady, "the joiner does not hold the turn back")
	assert.True(t, mc.PayoutAmount.Equal(d("108")))

	require.NoError(t, h.engine.LeaveCommunity(ctx, cid, 40))
	st, err = h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, community.MemberInactive, st.Member(40).Status)
	assert.Zero(t, st.Member(40).Position)
}

func TestEngineRejectedContributionLeavesNoTrace(t *testing.T) {
	h := newHarness(t, map[int64]string{10: "500", 20: "500", 30: "10"})
	ctx := context.Background()
	cid := h.startedCircle(t)

	_, err := h.engine.Contribute(ctx, cid, 30, d("30"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	_, err = h.engine.Contribute(ctx, cid, 20, d("29.99"))
	assert.ErrorIs(t, err, community.ErrContributionBelowMinimum)
	_, err = h.engine.Contribute(ctx, 999, 20, d("30"))
	assert.ErrorIs(t, err, community.ErrCommunityNotFound)

	assert.Empty(t, h.store.Contributions(cid))
	assert.Empty(t, h.ledger.Transactions())
	assert.True(t, h.ledger.Balance(30).Equal(d("10")))
}

func TestEngineConcurrentUnitsOfWork(t *testing.T) {
	members := []int64{10, 20, 30, 40, 50, 60}
	balances := make(map[int64]string, len(members))
	for _, id := range members {
		balances[id] = "500"
	}
	h := newHarness(t, balances)
	ctx := context.Background()

	settings := circleSettings()
	settings.MinMembersToStart = len(members)
	c, err := h.engine.CreateCommunity(ctx, 10, "Block", settings)
	require.NoError(t, err)
	for _, id := range members[1:] {
		_, err := h.engine.JoinCommunity(ctx, c.ID, id)
		require.NoError(t, err)
	}

	var g errgroup.Group
	for _, id := range members {
		id := id
		g.Go(func() error {
			_, err := h.engine.Contribute(ctx, c.ID, id, d("30"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	st, err := h.engine.Snapshot(ctx, c.ID)
	require.NoError(t, err)
	mc := st.OpenMidCycle()
	require.NotNil(t, mc)
	assert.True(t, mc.IsReady)
	assert.Equal(t, len(members), mc.ContributionCount())
	assert.Equal(t, len(members), mc.ContributionsToNextInLine.Len())
	assert.True(t, mc.ContributionsToNextInLine.Total().Equal(d("180")))
	for _, id := range members {
		got, ok := mc.ContributionsToNextInLine.Get(id)
		require.True(t, ok, "user %d", id)
		assert.True(t, got.Equal(d("30")), "user %d", id)
		assert.True(t, h.ledger.Balance(id).Equal(d("470")), "user %d", id)
	}
	assert.Len(t, h.store.Contributions(c.ID), len(members))
	assert.True(t, st.Community.TotalContributed.Equal(d("180")))

	h.clock.Advance(7 * 24 * time.Hour)
	results := make([]*app.PayoutResult, 4)
	g = errgroup.Group{}
	for i := range results {
		i := i
		g.Go(func() error {
			res, err := h.engine.ProcessDuePayout(ctx, c.ID)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	paid := 0
	for _, res := range results {
		if res != nil {
			paid++
			assert.Equal(t, int64(10), res.RecipientID)
		}
	}
	assert.Equal(t, 1, paid, "the turn pays out once")
	assert.Len(t, h.store.Payouts(c.ID), 1)
	assert.True(t, h.ledger.Balance(10).Equal(d("632")))

	st, err = h.engine.Snapshot(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, st.ActiveCycle().PaidMembers)
	assert.True(t, st.Community.BackupFundBalance.Equal(d("18")))
}

func TestEngineVotesApplyAtCycleBoundary(t *testing.T) {
	h := newHarness(t, map[int64]string{10: "500", 20: "500", 30: "500"})
	ctx := context.Background()
	cid := h.startedCircle(t)

	vote, err := h.engine.ProposeVote(ctx, cid, 20, community.SettingMinContribution, "40")
	require.NoError(t, err)
	_, err = h.engine.CastVote(ctx, cid, vote.ID, 30, true)
	require.NoError(t, err)

	st, err := h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	assert.True(t, st.Community.Settings.MinContribution.Equal(d("30")), "settings hold until the cycle ends")

	for turn := 0; turn < 3; turn++ {
		h.contribute(t, cid, 10, 20, 30)
		_, err := h.admin.ForcePayout(ctx, 10, cid)
		require.NoError(t, err, "turn %d", turn)
	}

	st, err = h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	assert.True(t, st.Community.Settings.MinContribution.Equal(d("40")))
	require.Len(t, st.Votes, 1)
	assert.True(t, st.Votes[0].Applied)
}

func TestAdminService(t *testing.T) {
	h := newHarness(t, map[int64]string{10: "500", 20: "500", 30: "500"})
	ctx := context.Background()
	cid := h.startedCircle(t)

	_, err := h.admin.ForcePayout(ctx, 20, cid)
	assert.ErrorIs(t, err, app.ErrAdminNotAuthorized)
	_, err = h.admin.StartCycle(ctx, 20, cid)
	assert.ErrorIs(t, err, app.ErrAdminNotAuthorized)
	assert.ErrorIs(t, h.admin.RemoveMember(ctx, 20, cid, 30), app.ErrAdminNotAuthorized)
	assert.ErrorIs(t, h.admin.RemoveMember(ctx, 10, cid, 10), app.ErrAdminCannotLeave)

	_, err = h.admin.StartCycle(ctx, 10, cid)
	assert.ErrorIs(t, err, community.ErrCycleInProgress)

	// Only the recipient paid in: forcing the payout penalises users 20 and 30.
	h.contribute(t, cid, 10)
	res, err := h.admin.ForcePayout(ctx, 10, cid)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.RecipientID)
	assert.True(t, res.NetPayout.Equal(d("27")))
	assert.Equal(t, 2, h.inbox.count(notification.KindPenalty))

	require.NoError(t, h.admin.RemoveMember(ctx, 10, cid, 30))
	st, err := h.engine.Snapshot(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, community.MemberInactive, st.Member(30).Status)
	assert.True(t, st.Member(30).HasDebt(), "removal keeps the debt on record")
}
