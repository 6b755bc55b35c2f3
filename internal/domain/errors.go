package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors used throughout the application.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRunInProgress  = errors.New("pipeline run already in progress")
	ErrInvalidAPIKey  = errors.New("invalid API key")
	ErrBadSignature   = errors.New("webhook signature mismatch")
	ErrMirrorNotReady = errors.New("repository mirror not initialized")
	ErrShuttingDown   = errors.New("server is shutting down")
)

// Error codes for standardized API error responses.
const (
	ErrCodeResourceNotFound      = "RESOURCE_NOT_FOUND"
	ErrCodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeValidationError       = "VALIDATION_ERROR"
	ErrCodeConfiguration         = "CONFIGURATION_ERROR"
	ErrCodeProcessFailed         = "PROCESS_FAILED"
	ErrCodeInternalError         = "INTERNAL_ERROR"
	ErrCodeUnavailable           = "SERVICE_UNAVAILABLE"
)

// APIError represents an error response from the API.
type APIError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// ConfigurationError reports required settings that are absent.
// It is fatal to the run that hits it and is never retried.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// SpawnError means an external command could not be started at all.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: failed to start: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessError means an external command ran and exited non-zero,
// or was killed after its deadline.
type ProcessError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

func (e *ProcessError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out", e.Command)
	}
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "Unknown error"
	}
	return fmt.Sprintf("%s: exited with code %d: %s", e.Command, e.ExitCode, msg)
}

// Detail returns the most useful diagnostic text the process produced.
func (e *ProcessError) Detail() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(e.Stdout)
}

// ResolutionError describes a changed path that cannot be mapped to a
// deployable directory. It only ever causes that path to be skipped.
type ResolutionError struct {
	Path   string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve changed path %q: %s", e.Path, e.Reason)
}

// ErrorDetail extracts display text from an error returned by the process layer.
func ErrorDetail(err error) string {
	var perr *ProcessError
	if errors.As(err, &perr) && !perr.TimedOut {
		if d := perr.Detail(); d != "" {
			return d
		}
	}
	return err.Error()
}
