package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	Storage       string
	DatabaseURL   string
	TelegramToken string // empty disables the bot
	LogLevel      string
	Environment   string

	CronSpecPayoutPoll    string
	CronSpecReminderCheck string
	CronSpecReconcile     string
	ReminderWindow        time.Duration

	TxRetryAttempts  int
	TxRetryBackoff   time.Duration
	JobRetryAttempts int
	JobRetryBackoff  time.Duration
	DispatchWorkers  int

	RedisURL     string // empty uses the in-process in-flight guard
	AMQPURL      string // empty disables event publishing
	AMQPExchange string
	OpsAddr      string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.Storage = strings.ToLower(envOr("STORAGE", StoragePostgres))
	switch cfg.Storage {
	case StoragePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StorageMemory:
	default:
		return nil, fmt.Errorf("invalid STORAGE %q: want %s or %s", cfg.Storage, StoragePostgres, StorageMemory)
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	cfg.LogLevel = strings.ToLower(envOr("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(envOr("ENVIRONMENT", "development"))

	cfg.CronSpecPayoutPoll = envOr("CRON_SPEC_PAYOUT_POLL", "@every 1m")
	cfg.CronSpecReminderCheck = envOr("CRON_SPEC_REMINDER_CHECK", "*/15 * * * *")
	cfg.CronSpecReconcile = envOr("CRON_SPEC_RECONCILE", "0 * * * *")

	if cfg.ReminderWindow, err = durationEnv("REMINDER_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TxRetryAttempts, err = intEnv("TX_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.TxRetryBackoff, err = durationEnv("TX_RETRY_BACKOFF", 25*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.JobRetryAttempts, err = intEnv("JOB_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.JobRetryBackoff, err = durationEnv("JOB_RETRY_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.DispatchWorkers, err = intEnv("DISPATCH_WORKERS", 8); err != nil {
		return nil, err
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.AMQPURL = os.Getenv("AMQP_URL")
	cfg.AMQPExchange = envOr("AMQP_EXCHANGE", "savings_circle.events")
	cfg.OpsAddr = envOr("OPS_ADDR", ":9090")

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", key)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
