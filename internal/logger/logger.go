// Package logger builds the process-wide hclog root logger from config.
// Components take an hclog.Logger in their constructors and call Named on it.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Configure returns the root logger. format "json" switches to JSON lines;
// anything else keeps hclog's text format. A nil writer means stderr and an
// unknown level means info.
func Configure(level, format string, w io.Writer) hclog.Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "vodpack",
		Level:      lvl,
		Output:     w,
		JSONFormat: strings.EqualFold(format, "json"),
	})
}
