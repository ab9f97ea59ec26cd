package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"savings_circle/internal/app"
	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/ledger"
	"savings_circle/internal/domain/notification"
	"savings_circle/internal/infra/config"
	idb "savings_circle/internal/infra/database"
	"savings_circle/internal/infra/events"
	"savings_circle/internal/infra/logger"
	"savings_circle/internal/infra/memory"
	"savings_circle/internal/infra/ops"
	"savings_circle/internal/infra/scheduler"
	"savings_circle/internal/infra/telegram"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"
)

func main() {
	fmt.Println("Savings circle engine starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg)
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var (
		store      community.Store
		wallets    ledger.Gateway
		jobs       scheduler.JobStore
		deliveries notification.DeliveryLog
	)
	switch cfg.Storage {
	case config.StorageMemory:
		store = memory.NewStore()
		wallets = memory.NewLedger()
		jobs = memory.NewJobStore()
		deliveries = memory.NewDeliveryLog()
		log.Warn("Using in-memory storage; state is lost on restart")
	default:
		db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("Could not connect to database")
		}
		defer db.Close()
		if err := idb.Migrate(ctx, db); err != nil {
			log.WithError(err).Fatal("Could not apply database schema")
		}
		store, wallets, jobs = postgresAdapters(db)
		deliveries = idb.NewPostgresDeliveryLog(db)
		log.Info("Database connection established successfully.")
	}

	// Notifiers
	notifiers := notification.Broadcast{}
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		bot, err = newBot(cfg.TelegramToken)
		if err != nil {
			log.WithError(err).Fatal("Could not create Telegram bot")
		}
		notifiers = append(notifiers, telegram.NewNotifier(telegram.NewTelebotAdapter(bot), logger.Component("telegram_notifier")))
	} else {
		log.Warn("TELEGRAM_TOKEN is empty; chat commands and telegram notices are disabled")
	}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger.Component("events"))
		if err != nil {
			log.WithError(err).Warn("RabbitMQ unavailable; events will not be published")
			notifiers = append(notifiers, events.Fallback{Logger: logger.Component("events")})
		} else {
			defer publisher.Close()
			notifiers = append(notifiers, publisher)
		}
	}

	engine := app.NewEngine(app.EngineDeps{
		Store:          store,
		Wallets:        wallets,
		Notifier:       notification.Recorded{Next: notifiers, Log: deliveries},
		TxRetry:        app.RetryPolicy{Attempts: cfg.TxRetryAttempts, Backoff: cfg.TxRetryBackoff},
		ReminderWindow: cfg.ReminderWindow,
		Logger:         logger.Get(),
	})

	// Scheduler
	queue := scheduler.NewPayoutQueue(jobs)
	restored, err := queue.Restore(ctx)
	if err != nil {
		log.WithError(err).Fatal("Could not restore payout queue")
	}
	log.WithField("jobs", restored).Info("Payout queue restored")
	engine.SetScheduler(queue)

	var guard scheduler.InFlightGuard = scheduler.NewLocalGuard()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("Invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("Could not reach redis")
		}
		guard = scheduler.NewRedisGuard(client, "")
		log.Info("Using redis payout lock")
	}

	dispatcher := scheduler.NewDispatcher(queue, guard, func(ctx context.Context, communityID int64) error {
		_, err := engine.ProcessDuePayout(ctx, communityID)
		return err
	}, app.RetryPolicy{Attempts: cfg.JobRetryAttempts, Backoff: cfg.JobRetryBackoff}, cfg.DispatchWorkers, logger.Component("dispatcher"))

	poller := scheduler.NewPoller(engine, queue, logger.Component("poller"),
		cfg.CronSpecPayoutPoll, cfg.CronSpecReminderCheck, cfg.CronSpecReconcile)
	if err := poller.Start(); err != nil {
		log.WithError(err).Fatal("Could not start poller")
	}
	defer poller.Stop()
	if n, err := poller.PollDuePayouts(ctx); err != nil {
		log.WithError(err).Warn("Initial payout scan failed")
	} else {
		log.WithField("open_turns", n).Info("Initial payout scan done")
	}

	// Chat
	if bot != nil {
		telegram.RegisterBotCommands(ctx, bot, engine, logger.Component("telegram"))
		telegram.RegisterVoteResponseHandlers(ctx, bot, engine, logger.Component("telegram"))
		telegram.RegisterAdminHandlers(ctx, bot, app.NewAdminService(engine), logger.Component("telegram_admin"))
	}

	log.Info("Application setup complete. Dispatcher, poller and bot are starting...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		return ops.Serve(gctx, cfg.OpsAddr, ops.NewRouter(engine, queue, deliveries, logger.Component("ops")), logger.Component("ops"))
	})
	if bot != nil {
		g.Go(func() error {
			go bot.Start()
			<-gctx.Done()
			bot.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("Engine stopped with error")
		os.Exit(1)
	}
	log.Info("Application shut down gracefully.")
}

func postgresAdapters(db *sql.DB) (community.Store, ledger.Gateway, scheduler.JobStore) {
	return idb.NewPostgresStore(db), idb.NewPostgresWalletLedger(db), idb.NewPostgresPayoutJobStore(db)
}

func newBot(token string) (*telebot.Bot, error) {
	botLog := logger.Component("telebot")
	pref := telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			entry := botLog.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID).WithField("chat_id", c.Chat().ID)
			}
			entry.Error("Telegram handler error")
		},
	}
	return telebot.NewBot(pref)
}
