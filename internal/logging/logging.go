// Package logging wires up the process-wide logrus logger the way
// main.go in the console-server teacher configured it: a text formatter
// with full timestamps, optional file output, and per-component fields
// layered on with WithFields rather than separate logger instances.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. logPath may be empty, in which case
// output goes to stderr only.
func New(level string, logPath string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if logPath == "" {
		log.SetOutput(os.Stderr)
		return log, nil
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return log, nil
}

// Context returns an entry pre-populated with the fields every log line
// in a per-server lifecycle context should carry.
func Context(log *logrus.Logger, ssid uint16, trace string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"ssid":  ssid,
		"trace": trace,
	})
}
