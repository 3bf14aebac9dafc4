// Package logging builds the process-wide logrus logger from config.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options mirrors the log section of the service config.
type Options struct {
	Level  string
	Format string
	File   string
}

// New returns a configured logger and a close func for the optional log file.
// Log lines go to stdout and, when File is set, are appended to that file too.
func New(opts Options) (*logrus.Logger, func() error, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	closer := func() error { return nil }
	out := io.Writer(os.Stdout)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f.Close
	}
	logger.SetOutput(out)

	return logger, closer, nil
}

// Discard returns a logger that drops everything. Used by tests and tools
// that have no log sink configured.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
