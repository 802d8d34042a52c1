// Package logging builds the logrus loggers used across rtdecycle.
package logging

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stdout at the given level.
// "off" and "none" discard all output; unknown levels fall back to info.
func New(level string) *logrus.Logger {
	logger := logrus.New()

	if level == "off" || level == "none" {
		logger.SetOutput(io.Discard)
	} else {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		logger.SetLevel(lvl)
		logger.SetOutput(os.Stdout)
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return logger
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Logger {
	return New("off")
}

// ChannelHook forwards log entries as short lines to a channel, for display
// in a terminal UI. Entries are dropped when the channel is full.
type ChannelHook struct {
	ch     chan string
	levels []logrus.Level
}

// NewChannelHook creates a hook buffering up to size lines for entries at
// or above minLevel.
func NewChannelHook(size int, minLevel logrus.Level) *ChannelHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &ChannelHook{
		ch:     make(chan string, size),
		levels: levels,
	}
}

// Lines returns the channel receiving formatted lines.
func (h *ChannelHook) Lines() <-chan string {
	return h.ch
}

// Levels implements logrus.Hook.
func (h *ChannelHook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook.
func (h *ChannelHook) Fire(e *logrus.Entry) error {
	select {
	case h.ch <- Line(e):
	default:
		// Drop if channel full
	}
	return nil
}

// Line formats an entry as "[15:04:05] LEVEL message key=value ...".
func Line(e *logrus.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s", e.Time.Format(time.TimeOnly), strings.ToUpper(e.Level.String()), e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Data[k])
	}
	return sb.String()
}
