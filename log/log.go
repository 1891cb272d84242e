// Package log wraps logrus so the core packages can accept an optional
// *logrus.Logger without nil-checking at every call site: a nil logger
// given to New falls back to a logger with output discarded. Logging
// must never be the thing that crashes the caller.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New returns logger if non-nil, otherwise a logrus.Logger whose output
// is discarded. Connection, ReliableMessageChannel and DNSResolver all
// take an optional logger through this helper.
func New(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}

// Default returns a logger preconfigured the way cmd/netdemo wants its
// standard output: text formatter, field-level detail, info level.
func Default() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}
