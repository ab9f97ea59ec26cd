package scheduler

import (
	"context"
	"time"

	"savings_circle/internal/app"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handler runs one payout job.
type Handler func(ctx context.Context, communityID int64) error

const (
	idleWait       = time.Minute
	defaultLockTTL = 5 * time.Minute
)

// Dispatcher pulls due jobs off the queue and runs them on a bounded worker pool.
type Dispatcher struct {
	queue   *PayoutQueue
	guard   InFlightGuard
	handle  Handler
	policy  app.RetryPolicy
	workers int
	lockTTL time.Duration
	clock   func() time.Time
	logger  *logrus.Entry
}

func NewDispatcher(queue *PayoutQueue, guard InFlightGuard, handle Handler, policy app.RetryPolicy, workers int, logger *logrus.Entry) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:   queue,
		guard:   guard,
		handle:  handle,
		policy:  policy,
		workers: workers,
		lockTTL: defaultLockTTL,
		clock:   time.Now,
		logger:  logger,
	}
}

// Run dispatches until ctx is cancelled, then waits for running jobs.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.WithField("workers", d.workers).Info("Payout dispatcher started")
	g := new(errgroup.Group)
	g.SetLimit(d.workers)

	for {
		if ctx.Err() != nil {
			break
		}
		if job, ok := d.queue.PopDue(d.clock()); ok {
			d.dispatch(ctx, g, job)
			continue
		}

		wait := idleWait
		if due, ok := d.queue.NextDue(); ok {
			wait = due.Sub(d.clock())
			if wait < 0 {
				wait = 0
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
		case <-d.queue.Wake():
		case <-timer.C:
		}
		timer.Stop()
	}

	err := g.Wait()
	d.logger.Info("Payout dispatcher stopped")
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, g *errgroup.Group, job Job) {
	log := d.logger.WithField("community_id", job.CommunityID)

	claimed, err := d.guard.Acquire(ctx, job.CommunityID, d.lockTTL)
	if err != nil || !claimed {
		if err != nil {
			log.WithError(err).Warn("Could not claim payout job, leaving it to the next poll")
		} else {
			log.Debug("Payout job already running elsewhere")
		}
		jobsFinishedTotal.WithLabelValues("skipped").Inc()
		d.finish(ctx, job, false)
		return
	}

	// Blocks while every worker is busy.
	g.Go(func() error {
		d.run(ctx, job)
		return nil
	})
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	log := d.logger.WithFields(logrus.Fields{"community_id": job.CommunityID, "due_at": job.DueAt})
	start := time.Now()

	retryable := func(err error) bool { return !app.IsValidation(err) }
	err := app.WithRetry(ctx, d.policy, retryable, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			log.WithField("attempt", attempt).Info("Retrying payout job")
		}
		return d.handle(ctx, job.CommunityID)
	})
	jobDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		jobsFinishedTotal.WithLabelValues("ok").Inc()
		log.Debug("Payout job finished")
	case app.IsValidation(err):
		jobsFinishedTotal.WithLabelValues("rejected").Inc()
		log.WithError(err).Warn("Payout job rejected")
	default:
		jobsFinishedTotal.WithLabelValues("exhausted").Inc()
		log.WithError(err).Error("Payout job failed, the next poll will retry")
	}
	d.finish(ctx, job, true)
}

func (d *Dispatcher) finish(ctx context.Context, job Job, release bool) {
	// Cleanup must outlive a shutdown signal.
	cleanupCtx := context.WithoutCancel(ctx)
	if release {
		if err := d.guard.Release(cleanupCtx, job.CommunityID); err != nil {
			d.logger.WithError(err).WithField("community_id", job.CommunityID).Warn("Failed to release payout lock")
		}
	}
	if err := d.queue.Done(cleanupCtx, job.CommunityID); err != nil {
		d.logger.WithError(err).WithField("community_id", job.CommunityID).Warn("Failed to clear payout job")
	}
}
