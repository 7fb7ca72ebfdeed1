package transcodingmodule

import (
	"fmt"
	"path/filepath"
	"strings"

	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
)

const (
	encryptedDir   = "lock"
	unencryptedDir = "free"
	logsDir        = "logs"
)

// Layout resolves the directories one job owns
type Layout struct {
	// Root is {output}/{jobKey}
	Root string
	// Output is Root/lock for encrypted jobs, Root/free otherwise
	Output string
	// Temp holds intermediates; it is keyed by job key so a re-run can
	// reuse finished encodes
	Temp string
	Logs string
}

// NewLayout computes the directory layout for a job key
func NewLayout(outputRoot, workDir, jobKey string, encrypted bool) Layout {
	root := filepath.Join(outputRoot, jobKey)
	out := filepath.Join(root, unencryptedDir)
	if encrypted {
		out = filepath.Join(root, encryptedDir)
	}
	temp := filepath.Join(workDir, jobKey)
	return Layout{
		Root:   root,
		Output: out,
		Temp:   temp,
		Logs:   filepath.Join(temp, logsDir),
	}
}

// ValidateJobKey rejects keys that cannot be used as a single path element
func ValidateJobKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return fmt.Errorf("%w: job key %q", tErrors.ErrInvalidInput, key)
	case strings.ContainsAny(key, `/\,`):
		return fmt.Errorf("%w: job key %q contains a path separator or comma", tErrors.ErrInvalidInput, key)
	case strings.TrimSpace(key) != key:
		return fmt.Errorf("%w: job key %q has surrounding whitespace", tErrors.ErrInvalidInput, key)
	}
	return nil
}
