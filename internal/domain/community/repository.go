// internal/domain/community/repository.go
package community

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OpenTurn summarises an incomplete mid-cycle for the scheduler.
type OpenTurn struct {
	CommunityID  int64
	MidCycleID   uuid.UUID
	PayoutDate   time.Time
	IsReady      bool
	ReminderSent bool
}

// Repository loads and persists whole community aggregates.
type Repository interface {
	// Load returns the community with its members, cycles, mid-cycles,
	// owing list and votes.
	Load(ctx context.Context, communityID int64) (*State, error)
	// Save persists st. A community or mid-cycle with Version 0 is inserted;
	// otherwise the stored version must match or a *ConflictError is returned.
	// On success versions are bumped and the new contributions and payouts
	// are written and cleared from st.
	Save(ctx context.Context, st *State) error
	// ListOpenTurns returns every incomplete mid-cycle across communities.
	ListOpenTurns(ctx context.Context) ([]OpenTurn, error)
}

// TxManager runs fn inside one atomic unit of work. Repository and ledger
// calls made with the ctx passed to fn join the same transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is a repository that can also open transactions.
type Store interface {
	Repository
	TxManager
}
