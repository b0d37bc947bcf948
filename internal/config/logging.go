package config

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from the log settings
func (c LogConfig) NewLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)

	if strings.EqualFold(c.Format, "text") {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	level, err := log.ParseLevel(c.Level)
	if err != nil {
		level = log.InfoLevel
		logger.WithField("level", c.Level).Warn("Unknown log level, using info")
	}
	logger.SetLevel(level)

	return logger
}
