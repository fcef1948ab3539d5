// Package logging is a thin, verbose-gated wrapper over fmt/log, matching
// the plain print-style logging the rest of the codebase's lineage uses —
// no structured logging framework, just prefixed lines to stdout/stderr.
package logging

import (
	"fmt"
	"os"
)

// Logger prints progress lines, optionally gated behind a verbose flag.
type Logger struct {
	Verbose bool
	prefix  string
}

func New(prefix string, verbose bool) *Logger {
	return &Logger{Verbose: verbose, prefix: prefix}
}

// Printf always prints, prefixed, to stdout. Used for user-facing progress
// that should show regardless of verbosity (dry-run echoes, warnings).
func (l *Logger) Printf(format string, args ...any) {
	fmt.Printf("%s: %s\n", l.prefix, fmt.Sprintf(format, args...))
}

// Verbosef prints only when Verbose is set.
func (l *Logger) Verbosef(format string, args ...any) {
	if !l.Verbose {
		return
	}
	l.Printf(format, args...)
}

// Warnf prints a warning line to stderr.
func (l *Logger) Warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s: WARNING: %s\n", l.prefix, fmt.Sprintf(format, args...))
}
