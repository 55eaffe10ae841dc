// Package logging builds the process-wide logger. Every component takes the
// *logrus.Logger built here rather than reaching for a package-level logger,
// so tests can inject a quieter logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the base logger for the process. level is parsed with
// logrus.ParseLevel; an unparseable level falls back to Info.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stdout
	log.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return log
}
