package transcodingmodule

import (
	"errors"
	"path/filepath"
	"testing"

	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewLayout(t *testing.T) {
	l := NewLayout("/srv/out", "/srv/work", "movie", true)
	assert.Equal(t, filepath.Join("/srv/out", "movie"), l.Root)
	assert.Equal(t, filepath.Join("/srv/out", "movie", "lock"), l.Output)
	assert.Equal(t, filepath.Join("/srv/work", "movie"), l.Temp)
	assert.Equal(t, filepath.Join("/srv/work", "movie", "logs"), l.Logs)

	free := NewLayout("/srv/out", "/srv/work", "movie", false)
	assert.Equal(t, filepath.Join("/srv/out", "movie", "free"), free.Output)
}

func TestValidateJobKey(t *testing.T) {
	for _, key := range []string{"movie", "Season 1 - E02", "3f1c9a4e-5b7d-4c1e-9f00-1234567890ab"} {
		assert.NoError(t, ValidateJobKey(key), key)
	}

	for _, key := range []string{"", ".", "..", "a/b", `a\b`, "a,b", " padded"} {
		err := ValidateJobKey(key)
		assert.True(t, errors.Is(err, tErrors.ErrInvalidInput), "%q: %v", key, err)
	}
}
