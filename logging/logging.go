// Package logging wraps logrus for blockfs components. There is no
// package-level logger: callers construct one with New and pass it
// explicitly into every component constructor, matching the explicit-
// composition design in spec.md section 9 (no process-wide state beyond
// the logger itself).
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger writing text-formatted lines to out (or
// os.Stderr if out is nil) at the given level.
func New(level logrus.Level, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Discard returns a logger that drops everything, used by components
// and tests that don't care to observe log output.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
