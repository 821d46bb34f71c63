// Package logging builds the logrus loggers used across securechat.
//
// Every component logs through a *logrus.Entry tagged with a "component"
// field. Loggers are constructed explicitly and passed down; nothing in the
// engine writes to the logrus standard logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options controls logger construction.
type Options struct {
	Level  string    // trace, debug, info, warn, error
	Format string    // text or json
	Out    io.Writer // defaults to os.Stderr
}

// New returns a logger configured from opts.
func New(opts Options) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if opts.Out != nil {
		l.SetOutput(opts.Out)
	}

	level := opts.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return l, nil
}

// Component returns an entry tagged with the component name.
// A nil logger falls back to a discarding logger.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	if l == nil {
		l = Discard()
	}
	return l.WithField("component", name)
}

// Discard returns a logger that drops everything, for tests and defaults.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns e, or a discarding entry for name when e is nil.
func OrDiscard(e *logrus.Entry, name string) *logrus.Entry {
	if e != nil {
		return e
	}
	return Component(nil, name)
}
