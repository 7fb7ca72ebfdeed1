package errors

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ErrorReporter collects errors from background goroutines (watch-folder
// submissions, cleanup sweeps, job runners)
type ErrorReporter interface {
	// ReportError reports a non-fatal error from a background operation
	ReportError(ctx context.Context, err error)

	// ReportPanic reports a panic from a background operation
	ReportPanic(ctx context.Context, recovered interface{}, stack []byte)
}

// ReportedError contains error information from background operations
type ReportedError struct {
	Error     error
	Stage     string
	JobID     string
	IsPanic   bool
	Stack     string
	Timestamp time.Time
}

// DefaultErrorReporter implements ErrorReporter with logging and a bounded history
type DefaultErrorReporter struct {
	logger    hclog.Logger
	errors    []ReportedError
	errorsMux sync.RWMutex
	maxErrors int
}

// NewErrorReporter creates a new error reporter
func NewErrorReporter(logger hclog.Logger) *DefaultErrorReporter {
	return &DefaultErrorReporter{
		logger:    logger.Named("error-reporter"),
		maxErrors: 200,
	}
}

// ReportError reports a non-fatal error from a background operation
func (r *DefaultErrorReporter) ReportError(ctx context.Context, err error) {
	if err == nil {
		return
	}

	r.logger.Error("background operation error",
		"error", err,
		"type", GetType(err),
		"stage", GetStage(err),
		"job_id", GetJobID(err))

	r.append(ReportedError{
		Error:     err,
		Stage:     GetStage(err),
		JobID:     GetJobID(err),
		Timestamp: time.Now(),
	})
}

// ReportPanic reports a panic from a background operation
func (r *DefaultErrorReporter) ReportPanic(ctx context.Context, recovered interface{}, stack []byte) {
	r.logger.Error("panic in background operation",
		"panic", recovered,
		"stack", string(stack))

	r.append(ReportedError{
		Error:     PanicError(recovered),
		Stage:     "panic",
		IsPanic:   true,
		Stack:     string(stack),
		Timestamp: time.Now(),
	})
}

func (r *DefaultErrorReporter) history() []ReportedError {
	r.errorsMux.RLock()
	defer r.errorsMux.RUnlock()

	result := make([]ReportedError, len(r.errors))
	copy(result, r.errors)
	return result
}

func (r *DefaultErrorReporter) append(e ReportedError) {
	r.errorsMux.Lock()
	defer r.errorsMux.Unlock()

	if len(r.errors) >= r.maxErrors {
		r.errors = r.errors[1:]
	}
	r.errors = append(r.errors, e)
}

// PanicError converts a recovered value into an error
func PanicError(recovered interface{}) error {
	switch v := recovered.(type) {
	case error:
		return fmt.Errorf("panic: %w", v)
	case string:
		return fmt.Errorf("panic: %s", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// SafeGo runs fn in a goroutine with panic recovery. A panic is reported and
// handed to fn's caller as an error through onDone, like any returned error.
func SafeGo(reporter ErrorReporter, logger hclog.Logger, name string, fn func() error, onDone func(error)) {
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				reporter.ReportPanic(context.Background(), r, debug.Stack())
				err = PanicError(r)
			}
			if onDone != nil {
				onDone(err)
			}
		}()

		logger.Debug("starting background operation", "name", name)
		err = fn()
		logger.Debug("completed background operation", "name", name, "error", err)
	}()
}
