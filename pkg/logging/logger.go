// Package logging builds the application logger.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// New creates a named logger writing to stderr at the given level
// ("trace", "debug", "info", "warn", "error"). Unknown levels fall back to
// info.
func New(level string) hclog.Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(level string, w io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "lanepro",
		Level:  lvl,
		Output: w,
	})
}
