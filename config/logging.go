package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

func parseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// ConfigureLogging applies the log section to logger, or to the standard
// logrus logger when logger is nil.
func ConfigureLogging(cfg LogConfig, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}

	logger.WithFields(logrus.Fields{
		"function": "ConfigureLogging",
		"level":    level.String(),
		"format":   cfg.Format,
	}).Debug("Logging configured")
	return nil
}
