package app

import (
	"testing"

	"savings_circle/internal/domain/community"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposeAndCast(t *testing.T) {
	r := NewVoteResolver(fixedClock, quietLogger())
	st := newRunningState(4)

	vote, err := r.Propose(st, 2, community.SettingPenaltyAmount, " 12.5 ")
	require.NoError(t, err)
	assert.Equal(t, "12.5", vote.Value)
	assert.Equal(t, map[int64]bool{2: true}, vote.Ballots)
	assert.Same(t, vote, st.Vote(vote.ID))

	_, err = r.Cast(st, vote.ID, 3, false)
	require.NoError(t, err)
	_, err = r.Cast(st, vote.ID, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 2, vote.Approvals())

	_, err = r.Cast(st, uuid.New(), 3, true)
	assert.ErrorIs(t, err, community.ErrVoteNotFound)
	_, err = r.Cast(st, vote.ID, 42, true)
	assert.ErrorIs(t, err, community.ErrMemberNotFound)

	st.Member(4).Status = community.MemberInactive
	_, err = r.Cast(st, vote.ID, 4, true)
	assert.ErrorIs(t, err, community.ErrMemberNotActive)

	r.Resolve(st)
	_, err = r.Cast(st, vote.ID, 1, true)
	assert.ErrorIs(t, err, community.ErrVoteResolved)
}

func TestProposeRejectsBadValues(t *testing.T) {
	r := NewVoteResolver(fixedClock, quietLogger())
	st := newRunningState(3)

	_, err := r.Propose(st, 1, community.SettingBackupFundPercentage, "150")
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = r.Propose(st, 1, community.SettingKey("admin"), "2")
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = r.Propose(st, 9, community.SettingCycleLock, "true")
	assert.ErrorIs(t, err, community.ErrMemberNotFound)
	assert.Empty(t, st.Votes)
}

func TestResolveNeedsStrictMajority(t *testing.T) {
	r := NewVoteResolver(fixedClock, quietLogger())
	st := newRunningState(4)

	half, err := r.Propose(st, 1, community.SettingCycleLock, "true")
	require.NoError(t, err)
	_, err = r.Cast(st, half.ID, 2, true)
	require.NoError(t, err)

	majority, err := r.Propose(st, 1, community.SettingPositioningMode, "random")
	require.NoError(t, err)
	for _, id := range []int64{2, 3} {
		_, err = r.Cast(st, majority.ID, id, true)
		require.NoError(t, err)
	}

	r.Resolve(st)
	r.Apply(st)

	assert.False(t, half.Passed)
	assert.False(t, half.Applied)
	assert.False(t, st.Community.Settings.CycleLock)

	assert.True(t, majority.Passed)
	assert.True(t, majority.Applied)
	assert.Equal(t, community.PositioningRandom, st.Community.Settings.Positioning)
	require.NotNil(t, majority.ResolvedAt)
	assert.Equal(t, testNow, *majority.ResolvedAt)
}

func TestApplySetting(t *testing.T) {
	base := testSettings()
	tests := []struct {
		key     community.SettingKey
		value   string
		check   func(t *testing.T, s community.Settings)
		wantErr bool
	}{
		{key: community.SettingContributionFrequency, value: "daily", check: func(t *testing.T, s community.Settings) {
			assert.Equal(t, community.FrequencyDaily, s.ContributionFrequency)
		}},
		{key: community.SettingMinContribution, value: "45.50", check: func(t *testing.T, s community.Settings) {
			assert.True(t, s.MinContribution.Equal(dec("45.5")))
		}},
		{key: community.SettingCycleLock, value: "true", check: func(t *testing.T, s community.Settings) {
			assert.True(t, s.CycleLock)
		}},
		{key: community.SettingMinContribution, value: "0", wantErr: true},
		{key: community.SettingPenaltyAmount, value: "-1", wantErr: true},
		{key: community.SettingContributionFrequency, value: "yearly", wantErr: true},
		{key: community.SettingCycleLock, value: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.key)+"="+tt.value, func(t *testing.T) {
			got, err := applySetting(base, tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}
