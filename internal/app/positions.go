package app

import (
	"math/rand"
	"sort"

	"savings_circle/internal/domain/community"
)

// Shuffler permutes n elements through swap, like rand.Shuffle.
type Shuffler func(n int, swap func(i, j int))

// PositionAssigner hands out rotation slots at cycle start.
type PositionAssigner struct {
	shuffle Shuffler
}

func NewPositionAssigner(shuffle Shuffler) *PositionAssigner {
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	return &PositionAssigner{shuffle: shuffle}
}

// Assign gives every active member a unique position >= 1 and clears the
// position of everyone else.
//
// For the first cycle the administrator takes position 1 and the others draw
// from [2, max(MinMembersToStart, memberCount)]. Later cycles draw a fresh
// permutation of [1, memberCount] in RANDOM mode, or sort by user id in FIXED mode.
func (a *PositionAssigner) Assign(st *community.State, firstCycle bool) error {
	active := make([]*community.Member, 0, len(st.Members))
	for _, m := range st.Members {
		if m.IsActive() {
			active = append(active, m)
		} else {
			m.Position = 0
		}
	}
	// Stable input order so a seeded shuffle is reproducible.
	sort.Slice(active, func(i, j int) bool { return active[i].UserID < active[j].UserID })

	if firstCycle {
		return a.assignFirst(st, active)
	}

	switch st.Community.Settings.Positioning {
	case community.PositioningFixed:
		for i, m := range active {
			m.Position = i + 1
		}
	default:
		slots := make([]int, len(active))
		for i := range slots {
			slots[i] = i + 1
		}
		a.shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
		for i, m := range active {
			m.Position = slots[i]
		}
	}
	return nil
}

func (a *PositionAssigner) assignFirst(st *community.State, active []*community.Member) error {
	var admin *community.Member
	others := make([]*community.Member, 0, len(active))
	for _, m := range active {
		if m.UserID == st.Community.AdminUserID {
			admin = m
			continue
		}
		others = append(others, m)
	}
	if admin == nil {
		return community.ErrAdminNotActive
	}
	admin.Position = 1

	upper := st.Community.Settings.MinMembersToStart
	if len(active) > upper {
		upper = len(active)
	}
	slots := make([]int, 0, upper-1)
	for p := 2; p <= upper; p++ {
		slots = append(slots, p)
	}
	a.shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
	for i, m := range others {
		m.Position = slots[i]
	}
	return nil
}
