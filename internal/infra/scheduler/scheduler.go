package scheduler

import (
	"context"
	"fmt"
	"time"

	"savings_circle/internal/domain/community"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Engine is what the poller needs from the savings circle engine.
type Engine interface {
	OpenTurns(ctx context.Context) ([]community.OpenTurn, error)
	SendContributionReminders(ctx context.Context) (int, error)
	ReconcileAll(ctx context.Context) error
}

// Poller runs the cron jobs feeding the payout queue: a due-payout scan,
// the contribution reminder check and reconciliation.
type Poller struct {
	cronEngine            *cron.Cron
	engine                Engine
	queue                 *PayoutQueue
	logger                *logrus.Entry
	cronSpecPayoutPoll    string
	cronSpecReminderCheck string
	cronSpecReconcile     string
}

func NewPoller(
	engine Engine,
	queue *PayoutQueue,
	logger *logrus.Entry,
	cronSpecPayoutPoll string, // e.g. "@every 1m"
	cronSpecReminderCheck string, // e.g. "*/15 * * * *"
	cronSpecReconcile string, // e.g. "0 * * * *"
) *Poller {
	cronLogger := cron.PrintfLogger(logger)
	return &Poller{
		cronEngine:            cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cronLogger))),
		engine:                engine,
		queue:                 queue,
		logger:                logger,
		cronSpecPayoutPoll:    cronSpecPayoutPoll,
		cronSpecReminderCheck: cronSpecReminderCheck,
		cronSpecReconcile:     cronSpecReconcile,
	}
}

func (p *Poller) Start() error {
	p.logger.Info("Starting payout poller...")

	if _, err := p.cronEngine.AddFunc(p.cronSpecPayoutPoll, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		p.run("payout_poll", func() error {
			_, err := p.PollDuePayouts(ctx)
			return err
		})
	}); err != nil {
		return fmt.Errorf("could not add payout poll cron job: %w", err)
	}

	if _, err := p.cronEngine.AddFunc(p.cronSpecReminderCheck, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()
		p.run("reminder_check", func() error {
			n, err := p.engine.SendContributionReminders(ctx)
			if n > 0 {
				p.logger.WithField("turns", n).Info("Contribution reminders sent")
			}
			return err
		})
	}); err != nil {
		return fmt.Errorf("could not add reminder check cron job: %w", err)
	}

	if _, err := p.cronEngine.AddFunc(p.cronSpecReconcile, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		p.run("reconcile", func() error { return p.engine.ReconcileAll(ctx) })
	}); err != nil {
		return fmt.Errorf("could not add reconcile cron job: %w", err)
	}

	p.cronEngine.Start()
	p.logger.Info("Payout poller started with jobs.")
	return nil
}

// PollDuePayouts offers every open turn to the queue. Turns already queued
// or in flight are left alone; the queue holds each until its due time.
func (p *Poller) PollDuePayouts(ctx context.Context) (int, error) {
	turns, err := p.engine.OpenTurns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open turns: %w", err)
	}
	offered := 0
	for _, t := range turns {
		ok, err := p.queue.Offer(ctx, t.CommunityID, t.PayoutDate)
		if err != nil {
			p.logger.WithError(err).WithField("community_id", t.CommunityID).Warn("Failed to offer payout job")
			continue
		}
		if ok {
			offered++
		}
	}
	if offered > 0 {
		p.logger.WithField("offered", offered).Debug("Payout jobs offered")
	}
	return offered, nil
}

func (p *Poller) run(job string, fn func() error) {
	if err := fn(); err != nil {
		pollRunsTotal.WithLabelValues(job, "error").Inc()
		p.logger.WithError(err).WithField("job", job).Error("Poller job failed")
		return
	}
	pollRunsTotal.WithLabelValues(job, "ok").Inc()
}

func (p *Poller) Stop() {
	p.logger.Info("Stopping payout poller...")
	ctx := p.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	p.logger.Info("Payout poller gracefully stopped.")
}
