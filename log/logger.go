package log

import (
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger tags every line with a category (e.g. "bidi:send") and the time
// since the previous line, which is handy when reading protocol traces.
type Logger struct {
	Log *logrus.Logger

	mu       sync.Mutex
	last     time.Time
	category *regexp.Regexp
}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return New(l, nil)
}

// New wraps logger. When category is set, only lines of matching categories
// are written.
func New(logger *logrus.Logger, category *regexp.Regexp) *Logger {
	return &Logger{Log: logger, category: category}
}

// NewFromFilter is like New but compiles the category filter expression.
// An empty expression disables filtering.
func NewFromFilter(logger *logrus.Logger, filter string) (*Logger, error) {
	if filter == "" {
		return New(logger, nil), nil
	}
	re, err := regexp.Compile(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid log category filter %q: %w", filter, err)
	}
	return New(logger, re), nil
}

func (l *Logger) Debugf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Infof(category string, msg string, args ...interface{}) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

func (l *Logger) Warnf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

func (l *Logger) Errorf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

// Logf writes one line at level. A nil Logger discards it.
func (l *Logger) Logf(level logrus.Level, category string, msg string, args ...interface{}) {
	if l == nil || l.Log == nil || !l.Log.IsLevelEnabled(level) {
		return
	}
	if l.category != nil && !l.category.MatchString(category) {
		return
	}

	l.mu.Lock()
	now := time.Now()
	var elapsed time.Duration
	if !l.last.IsZero() {
		elapsed = now.Sub(l.last)
	}
	l.last = now
	l.mu.Unlock()

	l.Log.WithFields(logrus.Fields{
		"category": category,
		"elapsed":  fmt.Sprintf("%d ms", elapsed.Milliseconds()),
	}).Logf(level, msg, args...)
}

// SetLevel sets the level from a logrus level name (trace, debug, info, ...).
func (l *Logger) SetLevel(level string) error {
	pl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.Log.SetLevel(pl)
	return nil
}
