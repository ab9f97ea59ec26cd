package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"savings_circle/internal/domain/community"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// VoteResolver handles governance votes. Settings only change at cycle boundaries.
type VoteResolver struct {
	clock  func() time.Time
	logger *logrus.Entry
}

func NewVoteResolver(clock func() time.Time, logger *logrus.Entry) *VoteResolver {
	return &VoteResolver{clock: clock, logger: logger}
}

// Propose opens a vote. The value is checked against the current settings
// so a vote that could never apply is rejected up front.
func (r *VoteResolver) Propose(st *community.State, proposerID int64, setting community.SettingKey, value string) (*community.Vote, error) {
	member := st.Member(proposerID)
	if member == nil {
		return nil, community.ErrMemberNotFound
	}
	if !member.IsActive() {
		return nil, community.ErrMemberNotActive
	}
	if _, err := applySetting(st.Community.Settings, setting, value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	vote := &community.Vote{
		ID:          uuid.New(),
		CommunityID: st.Community.ID,
		ProposedBy:  proposerID,
		Setting:     setting,
		Value:       strings.TrimSpace(value),
		Ballots:     map[int64]bool{proposerID: true},
		CreatedAt:   r.clock(),
	}
	st.Votes = append(st.Votes, vote)
	return vote, nil
}

// Cast records or replaces userID's ballot.
func (r *VoteResolver) Cast(st *community.State, voteID uuid.UUID, userID int64, approve bool) (*community.Vote, error) {
	vote := st.Vote(voteID)
	if vote == nil {
		return nil, community.ErrVoteNotFound
	}
	if vote.Resolved {
		return nil, community.ErrVoteResolved
	}
	member := st.Member(userID)
	if member == nil {
		return nil, community.ErrMemberNotFound
	}
	if !member.IsActive() {
		return nil, community.ErrMemberNotActive
	}
	if vote.Ballots == nil {
		vote.Ballots = make(map[int64]bool)
	}
	vote.Ballots[userID] = approve
	return vote, nil
}

// Resolve closes every open vote. A vote passes when more than half of the
// active members approved it.
func (r *VoteResolver) Resolve(st *community.State) {
	now := r.clock()
	active := len(st.ActiveMembers())
	for _, v := range st.Votes {
		if v.Resolved {
			continue
		}
		v.Resolved = true
		v.Passed = v.Approvals()*2 > active
		v.ResolvedAt = &now
		r.logger.WithFields(logrus.Fields{
			"community_id": st.Community.ID,
			"vote_id":      v.ID,
			"setting":      v.Setting,
			"approvals":    v.Approvals(),
			"passed":       v.Passed,
		}).Info("Vote resolved")
	}
}

// Apply writes passed votes into the settings, oldest first.
func (r *VoteResolver) Apply(st *community.State) {
	for _, v := range st.Votes {
		if !v.Resolved || !v.Passed || v.Applied {
			continue
		}
		v.Applied = true
		next, err := applySetting(st.Community.Settings, v.Setting, v.Value)
		if err != nil {
			r.logger.WithError(err).WithField("vote_id", v.ID).Warn("Passed vote could not be applied")
			continue
		}
		st.Community.Settings = next
	}
}

func applySetting(s community.Settings, key community.SettingKey, raw string) (community.Settings, error) {
	raw = strings.TrimSpace(raw)
	switch key {
	case community.SettingPositioningMode:
		mode, err := community.ParsePositioningMode(raw)
		if err != nil {
			return s, err
		}
		s.Positioning = mode
	case community.SettingBackupFundPercentage:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return s, err
		}
		s.BackupFundPercentage = d
	case community.SettingMinContribution:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return s, err
		}
		s.MinContribution = d
	case community.SettingPenaltyAmount:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return s, err
		}
		s.PenaltyAmount = d
	case community.SettingContributionFrequency:
		f, err := community.ParseFrequency(raw)
		if err != nil {
			return s, err
		}
		s.ContributionFrequency = f
	case community.SettingCycleLock:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return s, err
		}
		s.CycleLock = b
	default:
		return s, fmt.Errorf("setting %q cannot be voted on", key)
	}
	return s, s.Validate()
}
