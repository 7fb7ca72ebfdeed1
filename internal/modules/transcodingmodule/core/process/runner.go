package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
)

// maxStderrTail bounds the diagnostics kept per invocation
const maxStderrTail = 64 * 1024

// Command is one engine invocation
type Command struct {
	JobID string
	// Label identifies the invocation in logs and errors, e.g. "encode 720p"
	Label string
	Path  string
	Args  []string
	// Stdout receives the process's standard output when set; otherwise it
	// is collected into Result.Stdout.
	Stdout io.Writer
	// Timeout overrides the runner's default when non-zero
	Timeout time.Duration
	// LogDir receives a per-invocation log with the arguments and stderr
	LogDir string
}

// Result is what a finished invocation left behind
type Result struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs engine commands. Pipeline stages depend on this interface so
// tests can substitute recorded or scripted executions.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, cmd Command) (*Result, error)

// Run calls f(ctx, cmd)
func (f ExecutorFunc) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// Runner is the Executor backed by real subprocesses
type Runner struct {
	registry *Registry
	timeout  time.Duration
	grace    time.Duration
	logger   hclog.Logger
}

// NewRunner creates a runner. timeout is the default per-invocation limit
// (zero disables it); grace is the SIGTERM to SIGKILL delay.
func NewRunner(registry *Registry, timeout, grace time.Duration, logger hclog.Logger) *Runner {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Runner{
		registry: registry,
		timeout:  timeout,
		grace:    grace,
		logger:   logger.Named("runner"),
	}
}

// Run starts the command in its own process group and waits for it. When
// ctx is cancelled or the timeout expires the group gets SIGTERM, then
// SIGKILL after the grace period. Timeouts wrap ErrTimeout and
// cancellations wrap ErrCancelled. On failure the returned Result is still
// populated so callers can attach stderr to their errors.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = r.timeout
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var stdout bytes.Buffer
	stderr := &tailBuffer{max: maxStderrTail}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = stderr
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = &stdout
	}

	done := make(chan struct{})
	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		err := signalGroup(pid, syscall.SIGTERM)
		go func() {
			select {
			case <-done:
			case <-time.After(r.grace):
				r.logger.Warn("process ignored SIGTERM, killing group", "pid", pid, "label", c.Label)
				_ = signalGroup(pid, syscall.SIGKILL)
			}
		}()
		return err
	}
	// Pipes held open by orphaned grandchildren must not block Wait forever
	cmd.WaitDelay = r.grace + 2*time.Second

	r.logger.Debug("starting process", "label", c.Label, "job_id", c.JobID, "path", c.Path, "args", c.Args)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &Result{ExitCode: -1}, fmt.Errorf("%s: failed to start %s: %w", c.Label, c.Path, err)
	}

	pid := cmd.Process.Pid
	if r.registry != nil {
		if err := r.registry.Register(pid, c.JobID, c.Label); err != nil {
			r.logger.Warn("failed to register process", "pid", pid, "error", err)
		}
		defer r.registry.Unregister(pid)
	}

	waitErr := cmd.Wait()
	close(done)

	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if runCtx.Err() != nil {
		// leftovers of the group must not outlive the job
		_ = signalGroup(pid, syscall.SIGKILL)
	}

	if c.LogDir != "" {
		if err := WriteCommandLog(c.LogDir, c.Label, c.Path, c.Args, result, waitErr); err != nil {
			r.logger.Warn("failed to write command log", "label", c.Label, "error", err)
		}
	}

	if waitErr == nil && runCtx.Err() == nil {
		r.logger.Debug("process finished", "label", c.Label, "job_id", c.JobID, "duration", result.Duration)
		return result, nil
	}

	switch {
	case ctx.Err() != nil:
		return result, fmt.Errorf("%s: %w", c.Label, tErrors.ErrCancelled)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return result, fmt.Errorf("%s: exceeded %s: %w", c.Label, timeout, tErrors.ErrTimeout)
	default:
		return result, fmt.Errorf("%s: %w", c.Label, waitErr)
	}
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
