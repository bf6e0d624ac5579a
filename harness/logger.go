package harness

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/bidiload/log"
)

// NewLogger returns the category logger configured by cfg, writing to out
// or to stderr when out is nil.
func NewLogger(cfg Config, out io.Writer) (*log.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	logger, err := log.NewFromFilter(l, cfg.LogFilter.String)
	if err != nil {
		return nil, err
	}
	if err := logger.SetLevel(cfg.LogLevel.String); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel.String, err)
	}
	return logger, nil
}
