// Package memory holds in-process adapters used by tests and STORAGE=memory.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"savings_circle/internal/domain/community"

	"github.com/google/uuid"
)

type journalKey struct{}

// journal collects undo steps for one unit of work.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) record(fn func()) {
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

func (j *journal) rollback() {
	j.mu.Lock()
	steps := j.undo
	j.undo = nil
	j.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

// WithinTx runs fn with an undo journal. Store and Ledger writes made through
// the ctx are reverted when fn fails. Nested calls join the outer journal.
func WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if journalFrom(ctx) != nil {
		return fn(ctx)
	}
	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

// Store keeps community aggregates in memory with optimistic versioning.
// Units of work run one at a time: WithinTx holds txMu until fn returns, so a
// rollback never hides writes another unit already observed.
type Store struct {
	txMu          sync.Mutex
	mu            sync.RWMutex
	states        map[int64]*community.State
	contributions []*community.Contribution
	payouts       []*community.Payout
	nextID        int64
}

func NewStore() *Store {
	return &Store{states: make(map[int64]*community.State)}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if journalFrom(ctx) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return WithinTx(ctx, fn)
}

func (s *Store) Load(ctx context.Context, communityID int64) (*community.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[communityID]
	if !ok {
		return nil, community.ErrCommunityNotFound
	}
	return st.Clone(), nil
}

func (s *Store) Save(ctx context.Context, st *community.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := st.Community
	var prev *community.State
	if c.Version == 0 {
		if c.ID == 0 {
			s.nextID++
			c.ID = s.nextID
		} else if _, exists := s.states[c.ID]; exists {
			return &community.ConflictError{Entity: "community", ID: strconv.FormatInt(c.ID, 10)}
		}
		if c.ID > s.nextID {
			s.nextID = c.ID
		}
	} else {
		stored, ok := s.states[c.ID]
		if !ok {
			return community.ErrCommunityNotFound
		}
		if stored.Community.Version != c.Version {
			return &community.ConflictError{Entity: "community", ID: strconv.FormatInt(c.ID, 10), ExpectedVersion: c.Version}
		}
		storedVersions := make(map[uuid.UUID]int64, len(stored.MidCycles))
		for _, mc := range stored.MidCycles {
			storedVersions[mc.ID] = mc.Version
		}
		for _, mc := range st.MidCycles {
			if v, ok := storedVersions[mc.ID]; ok && v != mc.Version {
				return &community.ConflictError{Entity: "mid_cycle", ID: mc.ID.String(), ExpectedVersion: mc.Version}
			}
		}
		prev = stored
	}

	now := time.Now().UTC()
	c.Version++
	c.UpdatedAt = now
	for _, m := range st.Members {
		m.CommunityID = c.ID
	}
	for _, o := range st.Owing {
		o.CommunityID = c.ID
	}
	for _, cy := range st.Cycles {
		cy.CommunityID = c.ID
	}
	for _, mc := range st.MidCycles {
		mc.CommunityID = c.ID
		mc.Version++
	}
	for _, v := range st.Votes {
		v.CommunityID = c.ID
	}
	for _, rec := range st.NewContributions {
		rec.CommunityID = c.ID
	}
	for _, p := range st.NewPayouts {
		p.CommunityID = c.ID
	}

	added := st.NewContributions
	paid := st.NewPayouts
	s.contributions = append(s.contributions, added...)
	s.payouts = append(s.payouts, paid...)
	st.NewContributions = nil
	st.NewPayouts = nil
	s.states[c.ID] = st.Clone()

	if j := journalFrom(ctx); j != nil {
		id, written := c.ID, c.Version
		j.record(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			// A newer version means someone saved on top of this write; keep theirs.
			if cur, ok := s.states[id]; ok && cur.Community.Version == written {
				if prev == nil {
					delete(s.states, id)
				} else {
					s.states[id] = prev
				}
			}
			s.contributions = without(s.contributions, added)
			s.payouts = without(s.payouts, paid)
		})
	}
	return nil
}

// without drops the given records from all, matching by identity.
func without[T any](all []*T, drop []*T) []*T {
	if len(drop) == 0 {
		return all
	}
	skip := make(map[*T]struct{}, len(drop))
	for _, d := range drop {
		skip[d] = struct{}{}
	}
	out := all[:0:0]
	for _, r := range all {
		if _, ok := skip[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) ListOpenTurns(ctx context.Context) ([]community.OpenTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []community.OpenTurn
	for _, st := range s.states {
		for _, mc := range st.MidCycles {
			if mc.IsComplete {
				continue
			}
			out = append(out, community.OpenTurn{
				CommunityID:  st.Community.ID,
				MidCycleID:   mc.ID,
				PayoutDate:   mc.PayoutDate,
				IsReady:      mc.IsReady,
				ReminderSent: mc.ReminderSentAt != nil,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayoutDate.Before(out[j].PayoutDate) })
	return out, nil
}

// Contributions returns the committed contribution records of a community.
func (s *Store) Contributions(communityID int64) []community.Contribution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []community.Contribution
	for _, c := range s.contributions {
		if c.CommunityID == communityID {
			out = append(out, *c)
		}
	}
	return out
}

// Payouts returns the committed payout records of a community.
func (s *Store) Payouts(communityID int64) []community.Payout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []community.Payout
	for _, p := range s.payouts {
		if p.CommunityID == communityID {
			out = append(out, *p)
		}
	}
	return out
}
