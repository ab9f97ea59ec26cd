package community

import (
	"sort"

	"github.com/google/uuid"
)

// State is a community aggregate loaded for one unit of work. Contributions
// and payouts are append-only, so only the records created during the unit of
// work are carried.
type State struct {
	Community *Community
	Members   []*Member
	Owing     []*OwingMember
	Cycles    []*Cycle
	MidCycles []*MidCycle
	Votes     []*Vote

	NewContributions []*Contribution
	NewPayouts       []*Payout
}

func (s *State) Member(userID int64) *Member {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// ActiveMembers returns active members ordered by position, then user id.
func (s *State) ActiveMembers() []*Member {
	out := make([]*Member, 0, len(s.Members))
	for _, m := range s.Members {
		if m.IsActive() {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// ActiveCycle returns the incomplete cycle, if any.
func (s *State) ActiveCycle() *Cycle {
	for _, c := range s.Cycles {
		if !c.IsComplete {
			return c
		}
	}
	return nil
}

// OpenMidCycle returns the incomplete mid-cycle, if any.
func (s *State) OpenMidCycle() *MidCycle {
	for _, mc := range s.MidCycles {
		if !mc.IsComplete {
			return mc
		}
	}
	return nil
}

func (s *State) CycleByNumber(n int) *Cycle {
	for _, c := range s.Cycles {
		if c.CycleNumber == n {
			return c
		}
	}
	return nil
}

func (s *State) CycleByID(id uuid.UUID) *Cycle {
	for _, c := range s.Cycles {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *State) OwingFor(userID int64) *OwingMember {
	for _, o := range s.Owing {
		if o.UserID == userID {
			return o
		}
	}
	return nil
}

// RemoveOwing drops the owing entry for userID.
func (s *State) RemoveOwing(userID int64) {
	kept := s.Owing[:0]
	for _, o := range s.Owing {
		if o.UserID != userID {
			kept = append(kept, o)
		}
	}
	s.Owing = kept
}

func (s *State) Vote(id uuid.UUID) *Vote {
	for _, v := range s.Votes {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// AddCycle appends c and references it from the community.
func (s *State) AddCycle(c *Cycle) {
	s.Cycles = append(s.Cycles, c)
	s.Community.CycleIDs = append(s.Community.CycleIDs, c.ID)
}

// AddMidCycle appends mc and links it to the community and to its cycle.
func (s *State) AddMidCycle(mc *MidCycle, parent *Cycle) {
	s.MidCycles = append(s.MidCycles, mc)
	s.Community.MidCycleIDs = append(s.Community.MidCycleIDs, mc.ID)
	if parent != nil {
		parent.LinkMidCycle(mc.ID)
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := &State{}
	if s.Community != nil {
		c := *s.Community
		c.CycleIDs = append([]uuid.UUID(nil), s.Community.CycleIDs...)
		c.MidCycleIDs = append([]uuid.UUID(nil), s.Community.MidCycleIDs...)
		if s.Community.LastPayout != nil {
			lp := *s.Community.LastPayout
			c.LastPayout = &lp
		}
		out.Community = &c
	}
	for _, m := range s.Members {
		cp := *m
		cp.MissedContributions = make([]MissedContribution, len(m.MissedContributions))
		for i, mc := range m.MissedContributions {
			mc.MidCycleIDs = append([]uuid.UUID(nil), mc.MidCycleIDs...)
			cp.MissedContributions[i] = mc
		}
		if m.MissedContributions == nil {
			cp.MissedContributions = nil
		}
		if m.PaymentPlan != nil {
			pp := *m.PaymentPlan
			cp.PaymentPlan = &pp
		}
		out.Members = append(out.Members, &cp)
	}
	for _, o := range s.Owing {
		cp := *o
		out.Owing = append(out.Owing, &cp)
	}
	for _, c := range s.Cycles {
		cp := *c
		cp.MidCycleIDs = append([]uuid.UUID(nil), c.MidCycleIDs...)
		cp.PaidMembers = append([]int64(nil), c.PaidMembers...)
		if c.EndDate != nil {
			end := *c.EndDate
			cp.EndDate = &end
		}
		out.Cycles = append(out.Cycles, &cp)
	}
	for _, mc := range s.MidCycles {
		cp := *mc
		cp.Contributions = make(map[int64][]uuid.UUID, len(mc.Contributions))
		for k, ids := range mc.Contributions {
			cp.Contributions[k] = append([]uuid.UUID(nil), ids...)
		}
		cp.ContributionsToNextInLine = mc.ContributionsToNextInLine.Clone()
		cp.Joiners = append([]Joiner(nil), mc.Joiners...)
		if mc.ReminderSentAt != nil {
			t := *mc.ReminderSentAt
			cp.ReminderSentAt = &t
		}
		if mc.CompletedAt != nil {
			t := *mc.CompletedAt
			cp.CompletedAt = &t
		}
		out.MidCycles = append(out.MidCycles, &cp)
	}
	for _, v := range s.Votes {
		cp := *v
		cp.Ballots = make(map[int64]bool, len(v.Ballots))
		for k, b := range v.Ballots {
			cp.Ballots[k] = b
		}
		if v.ResolvedAt != nil {
			t := *v.ResolvedAt
			cp.ResolvedAt = &t
		}
		out.Votes = append(out.Votes, &cp)
	}
	for _, c := range s.NewContributions {
		cp := *c
		if c.Partial != nil {
			pp := *c.Partial
			cp.Partial = &pp
		}
		out.NewContributions = append(out.NewContributions, &cp)
	}
	for _, p := range s.NewPayouts {
		cp := *p
		out.NewPayouts = append(out.NewPayouts, &cp)
	}
	return out
}
