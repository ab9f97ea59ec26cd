// internal/infra/logger/logger.go
package logger

import (
	"os"
	"strings"

	"savings_circle/internal/infra/config"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. Components log through entries from Component.
var Log = logrus.New()

// Init applies level, formatter and the base fields from cfg.
func Init(cfg *config.AppConfig) {
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(formatterFor(cfg.Environment))

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		Log.SetLevel(logrus.InfoLevel)
		Log.WithError(err).Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	} else {
		Log.SetLevel(level)
	}

	Log.WithFields(logrus.Fields{
		"storage":     cfg.Storage,
		"environment": cfg.Environment,
		"level":       Log.GetLevel().String(),
	}).Info("Logger initialized")
}

// formatterFor picks JSON for deployed environments and coloured text locally.
func formatterFor(environment string) logrus.Formatter {
	switch strings.ToLower(environment) {
	case "production", "staging":
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	default:
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		}
	}
}

func Get() *logrus.Logger {
	return Log
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
