// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup sets the standard logger's level and formatter. Unknown levels fall
// back to info.
func Setup(level, format string) {
	log.SetOutput(os.Stdout)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
