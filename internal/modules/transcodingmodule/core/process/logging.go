package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteCommandLog writes the invocation, its outcome and its stderr tail to
// <dir>/<label>.log, replacing any previous log for the same label.
func WriteCommandLog(dir, label, path string, args []string, res *Result, runErr error) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", path)
	b.WriteString("Arguments:\n")
	for i, arg := range args {
		fmt.Fprintf(&b, "  [%d]: %s\n", i, arg)
	}
	if res != nil {
		fmt.Fprintf(&b, "Exit code: %d\nDuration: %s\n", res.ExitCode, res.Duration.Round(time.Millisecond))
	}
	if runErr != nil {
		fmt.Fprintf(&b, "Error: %v\n", runErr)
	}
	if res != nil && res.Stderr != "" {
		b.WriteString("Stderr:\n")
		b.WriteString(res.Stderr)
	}

	return os.WriteFile(filepath.Join(dir, logFileName(label)), []byte(b.String()), 0644)
}

func logFileName(label string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, label)
	if name == "" {
		name = "command"
	}
	return name + ".log"
}
