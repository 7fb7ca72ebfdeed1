package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 0, run([]string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "vodpack run -input")

	stdout.Reset()
	assert.Equal(t, 2, run([]string{"transcode"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "transcode"`)
}

func TestRunJobRequiresInput(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 2, run([]string{"run", "-key", "movie"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "-input is required")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"run", "-bogus"}, &stdout, &stderr))
}
