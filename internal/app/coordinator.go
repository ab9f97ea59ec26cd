package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"
	"savings_circle/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// PayoutScheduler keeps one pending payout job per community.
type PayoutScheduler interface {
	Schedule(ctx context.Context, communityID int64, dueAt time.Time) error
	Cancel(ctx context.Context, communityID int64) error
}

// Transition mutates a loaded community and records the effects it needs.
// Returning errNoChange commits nothing but still delivers the effects.
type Transition func(ctx context.Context, st *community.State, eff *Effects) error

var errNoChange = errors.New("no change")

// Coordinator runs transitions as atomic units of work: load, mutate, save,
// apply wallet ops, commit. Version conflicts are retried with a fresh load.
// Notices and schedule changes are delivered after commit.
type Coordinator struct {
	store     community.Store
	wallets   ledger.Gateway
	notifier  notification.Notifier
	scheduler PayoutScheduler
	policy    RetryPolicy
	logger    *logrus.Entry
}

func NewCoordinator(store community.Store, wallets ledger.Gateway, notifier notification.Notifier, policy RetryPolicy, logger *logrus.Entry) *Coordinator {
	return &Coordinator{
		store:    store,
		wallets:  wallets,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
	}
}

// SetScheduler attaches the payout scheduler. The scheduler dispatches into
// the engine, so it is wired after construction.
func (c *Coordinator) SetScheduler(s PayoutScheduler) {
	c.scheduler = s
}

// Execute runs fn against the community as one unit of work.
func (c *Coordinator) Execute(ctx context.Context, operation string, communityID int64, fn Transition) error {
	return c.run(ctx, operation, func(ctx context.Context, eff *Effects) (*community.State, error) {
		st, err := c.store.Load(ctx, communityID)
		if err != nil {
			return nil, err
		}
		if err := fn(ctx, st, eff); err != nil {
			if errors.Is(err, errNoChange) {
				return nil, nil
			}
			return nil, err
		}
		return st, nil
	})
}

// Create persists a community built by build. The store assigns its id.
func (c *Coordinator) Create(ctx context.Context, operation string, build func(eff *Effects) (*community.State, error)) error {
	return c.run(ctx, operation, func(ctx context.Context, eff *Effects) (*community.State, error) {
		return build(eff)
	})
}

func (c *Coordinator) run(ctx context.Context, operation string, prepare func(ctx context.Context, eff *Effects) (*community.State, error)) error {
	start := time.Now()
	log := c.logger.WithField("operation", operation)

	var committed Effects
	err := WithRetry(ctx, c.policy, community.IsConflict, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			conflictRetriesTotal.WithLabelValues(operation).Inc()
			log.WithField("attempt", attempt).Debug("Retrying unit of work after version conflict")
		}

		var eff Effects
		err := c.store.WithinTx(ctx, func(ctx context.Context) error {
			st, err := prepare(ctx, &eff)
			if err != nil {
				return err
			}
			if st == nil {
				return nil
			}
			if err := c.store.Save(ctx, st); err != nil {
				return err
			}
			return c.applyWallet(ctx, eff.Wallet)
		})
		if err != nil {
			return err
		}
		committed = eff
		return nil
	})
	unitOfWorkDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		result := "error"
		switch {
		case IsValidation(err):
			result = "rejected"
		case community.IsConflict(err):
			result = "conflict"
		}
		unitOfWorkTotal.WithLabelValues(operation, result).Inc()
		return err
	}
	unitOfWorkTotal.WithLabelValues(operation, "ok").Inc()

	c.afterCommit(ctx, committed)
	return nil
}

// applyWallet runs the ledger calls in order. Best-effort ops tolerate a
// missing wallet; every other failure aborts the unit of work.
func (c *Coordinator) applyWallet(ctx context.Context, ops []WalletOp) error {
	for _, op := range ops {
		var err error
		switch op.kind {
		case walletFreeze:
			err = c.wallets.Freeze(ctx, op.UserID())
		case walletUnfreeze:
			err = c.wallets.Unfreeze(ctx, op.UserID())
		default:
			err = c.wallets.ApplyTransaction(ctx, op.Tx)
		}
		if err == nil {
			continue
		}
		if op.BestEffort && errors.Is(err, ledger.ErrWalletNotFound) {
			c.logger.WithError(err).WithField("op", op.String()).Warn("Wallet missing, skipping")
			continue
		}
		return fmt.Errorf("wallet op %s failed: %w", op, err)
	}
	return nil
}

func (c *Coordinator) afterCommit(ctx context.Context, eff Effects) {
	for _, counter := range eff.counters {
		counter.Inc()
	}
	if c.notifier != nil {
		for _, n := range eff.Notices {
			if err := c.notifier.Notify(ctx, n); err != nil {
				c.logger.WithError(err).WithFields(logrus.Fields{
					"user_id":      n.UserID,
					"community_id": n.CommunityID,
					"kind":         n.Kind,
				}).Warn("Failed to deliver notice")
			}
		}
	}

	change := eff.Schedule
	if change == nil || c.scheduler == nil {
		return
	}
	var err error
	if change.Cancel {
		err = c.scheduler.Cancel(ctx, change.CommunityID)
	} else {
		err = c.scheduler.Schedule(ctx, change.CommunityID, change.DueAt)
	}
	if err != nil {
		// The poller re-offers every open turn, so the job is not lost.
		c.logger.WithError(err).WithField("community_id", change.CommunityID).Warn("Failed to update payout schedule")
	}
}
