// Package logging sets up the gateway's single logrus logger
// (spec.md §7's ambient logging requirement: structured fields for
// device id, handle, and opcode on every router decision line, sparse
// level usage — Debug for per-PDU tracing, Warn for recoverable policy
// violations, Error for transport failures that trigger teardown).
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures New. Zero value logs text-formatted Info and
// above to stderr.
type Options struct {
	Level  logrus.Level
	JSON   bool
	Output io.Writer
}

// New builds the root *logrus.Logger the rest of the gateway derives
// per-component *logrus.Entry values from (registry and router both
// take a *logrus.Entry rather than the bare logger, so every log line
// they emit already carries a "component" field).
func New(opts Options) *logrus.Logger {
	l := logrus.New()

	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stderr)
	}

	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.Level == 0 {
		l.SetLevel(logrus.InfoLevel)
	} else {
		l.SetLevel(opts.Level)
	}
	return l
}

// Discard returns a logger that drops everything, for tests and
// components that were handed a nil logger.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Component returns the *logrus.Entry a package-level dependency (the
// registry, the router) should log through,
// tagging every line it emits with which subsystem produced it.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	if l == nil {
		l = Discard()
	}
	return l.WithField("component", name)
}
