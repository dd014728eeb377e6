// Package logging provides the bridging logger interface shared by every
// component of the worker.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a bridging interface between logrus and the narrower set of
// methods most components actually need. Components should depend on this
// interface, never on *logrus.Logger directly, so that tests can inject a
// discard or buffer-backed logger.
type Logger interface {
	logrus.FieldLogger
	// Writer returns a pipe writer suitable for redirecting an external
	// collaborator's own log chatter (e.g. a TextEncoder implementation
	// writing progress to a pipe) into this logger at Info level.
	Writer() *io.PipeWriter
}

// New builds a Logger backed by a fresh logrus.Logger writing to stderr,
// which is where all human-readable output belongs (stdout is reserved for
// the JSON-RPC channel).
func New() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return l
}

// Component returns a logger with a "component" field set, used to tag log
// lines from a particular subsystem (scheduler, lifecycle, dispatcher, ...)
// without requiring each subsystem to know about the others.
func Component(log Logger, name string) Logger {
	entry := log.WithField("component", name)
	return &componentLogger{Entry: entry, base: log}
}

type componentLogger struct {
	*logrus.Entry
	base Logger
}

func (c *componentLogger) Writer() *io.PipeWriter {
	return c.base.Writer()
}
