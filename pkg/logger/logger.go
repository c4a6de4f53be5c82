// Package logger wraps logrus with the defaults used across the raffle services.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls how log records are rendered.
type LoggingConfig struct {
	Level     string    // debug, info, warn, error
	Format    string    // text or json
	Output    string    // stdout, stderr, or discard
	Component string    // value of the "component" field
	Writer    io.Writer // overrides Output when set
}

// Logger is a logrus entry pre-tagged with a component field.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch {
	case cfg.Writer != nil:
		base.SetOutput(cfg.Writer)
	case strings.EqualFold(cfg.Output, "stderr"):
		base.SetOutput(os.Stderr)
	case strings.EqualFold(cfg.Output, "discard"):
		base.SetOutput(io.Discard)
	default:
		base.SetOutput(os.Stdout)
	}

	component := strings.TrimSpace(cfg.Component)
	if component == "" {
		component = "raffle"
	}
	return &Logger{Entry: base.WithField("component", component)}
}

// NewDefault returns an info-level text logger for the named component.
func NewDefault(component string) *Logger {
	return New(LoggingConfig{Component: component})
}

// NewDiscard returns a logger that drops everything. Handy in tests.
func NewDiscard() *Logger {
	return New(LoggingConfig{Output: "discard"})
}

// Named returns a child logger sharing the same sink with a different component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", component)}
}
