// Package errors provides structured error handling for the transcoding pipeline.
// It defines the failure taxonomy, sentinel errors, and helpers for pulling
// stage and diagnostic context back out of wrapped errors.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a pipeline failure
type ErrorType string

const (
	// ErrorTypeProbe indicates the source could not be inspected
	ErrorTypeProbe ErrorType = "probe"
	// ErrorTypeResolution indicates no ladder rung fits the source
	ErrorTypeResolution ErrorType = "no_applicable_resolution"
	// ErrorTypeEncode indicates an encoder subprocess failed
	ErrorTypeEncode ErrorType = "encode"
	// ErrorTypeSubtitle indicates a caption file could not be converted
	ErrorTypeSubtitle ErrorType = "subtitle_conversion"
	// ErrorTypePackaging indicates the packager subprocess failed
	ErrorTypePackaging ErrorType = "packaging"
	// ErrorTypeStorage indicates job persistence errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeValidation indicates invalid job input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal indicates internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	ErrNoVideoStream          = errors.New("no decodable video stream")
	ErrNoApplicableResolution = errors.New("no applicable resolution for source")
	ErrTimeout                = errors.New("operation timed out")
	ErrCancelled              = errors.New("operation cancelled")
	ErrJobNotFound            = errors.New("job not found")
	ErrJobExists              = errors.New("job already active for key")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrInvalidInput           = errors.New("invalid input")
	ErrMissingInput           = errors.New("packager input missing")
	ErrNoKey                  = errors.New("no content key available")
)

// PipelineError provides structured error information with context
type PipelineError struct {
	Type    ErrorType              // Error classification
	Stage   string                 // Stage that failed (probing, encoding, packaging)
	JobID   string                 // Related job ID if applicable
	Target  string                 // Rendition name or audio index for encode errors
	Err     error                  // Underlying error
	Stderr  string                 // Captured subprocess diagnostics
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	msg := string(e.Type) + " error"
	if e.Target != "" {
		msg += fmt.Sprintf(" (%s)", e.Target)
	}
	if e.JobID != "" {
		msg += " for job " + e.JobID
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new PipelineError
func New(errType ErrorType, stage string, err error) *PipelineError {
	return &PipelineError{
		Type:    errType,
		Stage:   stage,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithJob adds job context to the error
func (e *PipelineError) WithJob(jobID string) *PipelineError {
	e.JobID = jobID
	return e
}

// WithStderr attaches captured subprocess output
func (e *PipelineError) WithStderr(stderr string) *PipelineError {
	e.Stderr = stderr
	return e
}

// WithDetail adds a key-value detail to the error
func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	e.Details[key] = value
	return e
}

// Error creation helpers

// ProbeError creates an inspection error
func ProbeError(err error) *PipelineError {
	return New(ErrorTypeProbe, "probing", err)
}

// NoApplicableResolutionError reports a source narrower than every rung
func NoApplicableResolutionError(width int) *PipelineError {
	return New(ErrorTypeResolution, "probing",
		fmt.Errorf("%w: source width %d", ErrNoApplicableResolution, width)).
		WithDetail("width", width)
}

// EncodeError creates an encode error tagged with the rendition or audio index
func EncodeError(target string, err error) *PipelineError {
	e := New(ErrorTypeEncode, "encoding", err)
	e.Target = target
	return e
}

// SubtitleConversionError reports a malformed caption file
func SubtitleConversionError(path string, err error) *PipelineError {
	e := New(ErrorTypeSubtitle, "encoding", err)
	e.Target = path
	return e
}

// PackagingError creates a packaging error carrying the packager's stderr
func PackagingError(err error, stderr string) *PipelineError {
	return New(ErrorTypePackaging, "packaging", err).WithStderr(stderr)
}

// StorageError creates a persistence error
func StorageError(op string, err error) *PipelineError {
	return New(ErrorTypeStorage, op, err)
}

// ValidationError creates a validation error
func ValidationError(op string, err error) *PipelineError {
	return New(ErrorTypeValidation, op, err)
}

// InternalError creates an internal system error
func InternalError(op string, err error) *PipelineError {
	return New(ErrorTypeInternal, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Type
	}
	return ErrorTypeInternal
}

// GetStage extracts the failing stage from an error
func GetStage(err error) string {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Stage
	}
	return "unknown"
}

// GetStderr extracts captured subprocess output from an error
func GetStderr(err error) string {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Stderr
	}
	return ""
}

// GetJobID extracts the job ID from an error
func GetJobID(err error) string {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.JobID
	}
	return ""
}
