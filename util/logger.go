// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// verboseLevel sits between charm's debug and info levels so verbose
// lines get their own label.
const verboseLevel = log.Level(-2)

// Logger writes levelled messages to stderr with optional timestamps
// and coloured level labels.  It is safe for concurrent use.
type Logger struct {
	level LogLevel
	base  *log.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	base := log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.DebugLevel,
		ReportTimestamp: verbosity >= 3, // auto-enable timestamps in debug mode
		TimeFormat:      "15:04:05.000",
	})
	base.SetStyles(levelStyles())
	return &Logger{level: LogLevel(verbosity), base: base}
}

// levelStyles mirrors the classic terminal palette: info blue, warn
// yellow, errors red.
func levelStyles() *log.Styles {
	label := func(s, color string) lipgloss.Style {
		return lipgloss.NewStyle().SetString(s).Bold(true).Foreground(lipgloss.Color(color))
	}
	st := log.DefaultStyles()
	st.Levels[log.DebugLevel] = label("DBG", "69")
	st.Levels[verboseLevel] = label("VRB", "245")
	st.Levels[log.InfoLevel] = label("INF", "4")
	st.Levels[log.WarnLevel] = label("WRN", "3")
	st.Levels[log.ErrorLevel] = label("ERR", "1")
	st.Levels[log.FatalLevel] = label("FTL", "1")
	return st
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) { l.base.SetReportTimestamp(on) }

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) { l.base.SetOutput(w) }

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that adds the key/value pairs to every
// line.  The child shares the parent's verbosity.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{level: l.level, base: l.base.With(kv...)}
}

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(log.InfoLevel, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(log.WarnLevel, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write(verboseLevel, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write(log.DebugLevel, format, args...)
	}
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(log.ErrorLevel, format, args...)
}

// Fatal prints and terminates the process with exit status 1.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.write(log.FatalLevel, format, args...)
	os.Exit(1)
}

func (l *Logger) write(level log.Level, format string, args ...interface{}) {
	l.base.Log(level, fmt.Sprintf(format, args...))
}
