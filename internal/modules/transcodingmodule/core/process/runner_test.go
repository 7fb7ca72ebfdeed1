package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func newTestRunner(timeout time.Duration) (*Runner, *Registry) {
	reg := NewRegistry(200*time.Millisecond, hclog.NewNullLogger())
	return NewRunner(reg, timeout, 200*time.Millisecond, hclog.NewNullLogger()), reg
}

func TestRunCapturesOutput(t *testing.T) {
	runner, reg := newTestRunner(0)
	script := writeScript(t, `echo "out:$1"; echo "warning: $2" >&2`)

	res, err := runner.Run(context.Background(), Command{
		JobID: "job-1",
		Label: "probe",
		Path:  script,
		Args:  []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out:a\n", string(res.Stdout))
	assert.Equal(t, "warning: b\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 0, reg.Count(), "finished processes are unregistered")
}

func TestRunNonZeroExitKeepsStderr(t *testing.T) {
	runner, _ := newTestRunner(0)
	script := writeScript(t, `echo "Invalid argument" >&2; exit 3`)

	res, err := runner.Run(context.Background(), Command{JobID: "job-1", Label: "encode 480p", Path: script})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode 480p")
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "Invalid argument")
	assert.False(t, errors.Is(err, tErrors.ErrTimeout))
}

func TestRunTimeout(t *testing.T) {
	runner, _ := newTestRunner(300 * time.Millisecond)
	script := writeScript(t, `sleep 30`)

	start := time.Now()
	_, err := runner.Run(context.Background(), Command{JobID: "job-1", Label: "package", Path: script})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tErrors.ErrTimeout))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunCancelKillsProcessGroup(t *testing.T) {
	runner, _ := newTestRunner(0)
	dir := t.TempDir()
	started := filepath.Join(dir, "started")
	marker := filepath.Join(dir, "survived")
	// the background child shares the script's process group
	script := writeScript(t, `(sleep 1; touch "`+marker+`") & touch "`+started+`"; wait`)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx, Command{JobID: "job-1", Label: "encode 720p", Path: script})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(started)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, tErrors.ErrCancelled))
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	time.Sleep(1500 * time.Millisecond)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "background child outlived the cancelled job")
}

func TestRegistryKillJob(t *testing.T) {
	runner, reg := newTestRunner(0)
	script := writeScript(t, `sleep 30`)

	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := runner.Run(context.Background(), Command{JobID: "job-9", Label: "encode", Path: script})
			errCh <- err
		}()
	}

	require.Eventually(t, func() bool { return len(reg.ProcessesForJob("job-9")) == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, reg.KillJob("job-9"))

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			assert.Error(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("killed process did not return")
		}
	}
	assert.Eventually(t, func() bool { return reg.Count() == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestRunWritesCommandLog(t *testing.T) {
	runner, _ := newTestRunner(0)
	script := writeScript(t, `echo "frame=  10" >&2`)
	logDir := filepath.Join(t.TempDir(), "logs")

	_, err := runner.Run(context.Background(), Command{
		JobID:  "job-1",
		Label:  "encode 720p",
		Path:   script,
		Args:   []string{"-i", "in.mp4"},
		LogDir: logDir,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(logDir, "encode_720p.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[1]: in.mp4")
	assert.Contains(t, string(data), "frame=  10")
}

func TestTailBufferKeepsEnd(t *testing.T) {
	tb := &tailBuffer{max: 5}
	tb.Write([]byte("abc"))
	tb.Write([]byte("defg"))
	assert.Equal(t, "cdefg", tb.String())
}
