// Package errors provides centralized error definitions and error handling utilities
// for boltkit. It defines the error taxonomy shared by the parser, the dispatcher
// and both execution backends, error constructors with context wrapping, and
// classification helpers.
//
// # Taxonomy
//
// Every error produced by boltkit carries a [Kind]:
//   - KindParseMalformed: an unterminated or invalid tag in the action stream
//   - KindBackendUnreachable: transport failure after exhausting retries
//   - KindPermissionDenied / KindNotFound: surfaced from a backend, never retried
//   - KindProcessError: non-zero exit or backend-reported spawn failure
//   - KindTimeout: an operation aborted by its deadline
//   - KindNotSupported: an operation neither backend implements (symlinks)
//   - KindUnknown: anything else
//
// # Usage
//
//	err := errors.NewBackendError(errors.KindNotFound, "stat", cause).
//		WithPath("src/main.ts").WithBackend("remote")
//
//	if errors.KindOf(err) == errors.KindNotFound { ... }
//	if errors.IsRetryable(err) { ... }
//
//	var be *errors.BackendError
//	if errors.As(err, &be) && be.Code == "ENOENT" { ... }
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind classifies an error within the boltkit taxonomy.
type Kind string

const (
	KindUnknown            Kind = "Unknown"
	KindParseMalformed     Kind = "ParseMalformed"
	KindBackendUnreachable Kind = "BackendUnreachable"
	KindPermissionDenied   Kind = "PermissionDenied"
	KindNotFound           Kind = "NotFound"
	KindProcessError       Kind = "ProcessError"
	KindTimeout            Kind = "Timeout"
	KindNotSupported       Kind = "NotSupported"
)

// Code returns the POSIX-style error code callers expect for the kind.
func (k Kind) Code() string {
	switch k {
	case KindNotFound:
		return "ENOENT"
	case KindPermissionDenied:
		return "EACCES"
	case KindTimeout:
		return "ETIMEDOUT"
	case KindNotSupported:
		return "ENOTSUP"
	case KindBackendUnreachable:
		return "ECONNREFUSED"
	default:
		return "EIO"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates that a path or process does not exist.
	ErrNotFound = New("no such file or directory")
	// ErrPermissionDenied indicates the backend refused the operation.
	ErrPermissionDenied = New("permission denied")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrNotSupported indicates an operation no backend implements.
	ErrNotSupported = New("operation not supported")
	// ErrBackendUnreachable indicates the execution service could not be reached.
	ErrBackendUnreachable = New("backend unreachable")
	// ErrProcessFailed indicates a process exited unsuccessfully.
	ErrProcessFailed = New("process failed")
	// ErrMalformed indicates malformed action markup.
	ErrMalformed = New("malformed action markup")
	// ErrClosed indicates use of a closed resource.
	ErrClosed = New("resource closed")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// sentinelFor maps a kind to its sentinel so errors.Is works across types.
func sentinelFor(k Kind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindTimeout:
		return ErrTimeout
	case KindNotSupported:
		return ErrNotSupported
	case KindBackendUnreachable:
		return ErrBackendUnreachable
	case KindProcessError:
		return ErrProcessFailed
	case KindParseMalformed:
		return ErrMalformed
	default:
		return nil
	}
}

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// BoltkitError is the base interface for all boltkit errors.
type BoltkitError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Kind returns the taxonomy classification.
	Kind() Kind

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	kind       Kind
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is matches the sentinel of the error's kind, then the cause chain.
func (e *baseError) Is(target error) bool {
	if s := sentinelFor(e.kind); s != nil && target == s {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Kind() Kind         { return e.kind }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// -----------------------------------------------------------------------------
// Backend Errors
// -----------------------------------------------------------------------------

// BackendError represents a failure of an execution backend operation.
// Both backends produce it, so callers never see backend-specific types.
//
// Example:
//
//	err := errors.NewBackendError(errors.KindNotFound, "stat", nil).WithPath("a.txt")
//	fmt.Println(err) // "backend error [op=stat, path=a.txt, code=ENOENT]: no such file or directory"
type BackendError struct {
	baseError
	Op         string
	Path       string
	Backend    string
	Code       string
	StatusCode int
}

// NewBackendError creates a new BackendError of the given kind.
func NewBackendError(kind Kind, op string, cause error) *BackendError {
	msg := "backend operation failed"
	if s := sentinelFor(kind); s != nil {
		msg = s.Error()
	}
	return &BackendError{
		baseError: baseError{
			kind:       kind,
			message:    msg,
			cause:      cause,
			severity:   SeverityError,
			retryable:  kind == KindTimeout || kind == KindBackendUnreachable || kind == KindUnknown,
			userFacing: true,
		},
		Op:   op,
		Code: kind.Code(),
	}
}

// WithPath adds the affected path to the error context.
func (e *BackendError) WithPath(path string) *BackendError {
	e.Path = path
	return e
}

// WithBackend records which backend produced the error.
func (e *BackendError) WithBackend(name string) *BackendError {
	e.Backend = name
	return e
}

// WithStatusCode records the HTTP status code of a remote failure.
func (e *BackendError) WithStatusCode(code int) *BackendError {
	e.StatusCode = code
	return e
}

// WithMessage replaces the default message.
func (e *BackendError) WithMessage(msg string) *BackendError {
	e.message = msg
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *BackendError) WithRetryable(r bool) *BackendError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *BackendError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}

	prefix := "backend error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("backend error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *BackendError) Is(target error) bool {
	if _, ok := target.(*BackendError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Process Errors
// -----------------------------------------------------------------------------

// ProcessError represents a non-zero exit or a spawn failure.
//
// Example:
//
//	err := errors.NewProcessError("command exited with code 1", nil).
//		WithCommand("npm install").WithExitCode(1).WithOutput(stderr)
type ProcessError struct {
	baseError
	ProcessID string
	Command   string
	ExitCode  int
	Output    string
}

// NewProcessError creates a new ProcessError.
func NewProcessError(message string, cause error) *ProcessError {
	return &ProcessError{
		baseError: baseError{
			kind:       KindProcessError,
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		ExitCode: -1,
	}
}

// WithProcessID adds a process ID to the error context.
func (e *ProcessError) WithProcessID(id string) *ProcessError {
	e.ProcessID = id
	return e
}

// WithCommand adds the command line to the error context.
func (e *ProcessError) WithCommand(cmd string) *ProcessError {
	e.Command = cmd
	return e
}

// WithExitCode records the exit code.
func (e *ProcessError) WithExitCode(code int) *ProcessError {
	e.ExitCode = code
	return e
}

// WithOutput records captured stderr/stdout for the user to act on.
func (e *ProcessError) WithOutput(out string) *ProcessError {
	e.Output = out
	return e
}

// Error returns the formatted error message.
func (e *ProcessError) Error() string {
	var parts []string
	if e.ProcessID != "" {
		parts = append(parts, fmt.Sprintf("process=%s", e.ProcessID))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%q", e.Command))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}

	prefix := "process error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("process error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ProcessError) Is(target error) bool {
	if _, ok := target.(*ProcessError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Parse Errors
// -----------------------------------------------------------------------------

// ParseError reports malformed or unterminated action markup.
// Unterminated markup is only reported once the stream is finished.
type ParseError struct {
	baseError
	StreamID string
	Element  string
	Offset   int
}

// NewParseError creates a new ParseError.
func NewParseError(message string) *ParseError {
	return &ParseError{
		baseError: baseError{
			kind:       KindParseMalformed,
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Offset: -1,
	}
}

// WithStream adds the stream ID to the error context.
func (e *ParseError) WithStream(id string) *ParseError {
	e.StreamID = id
	return e
}

// WithElement names the offending element (e.g. "artifact a1").
func (e *ParseError) WithElement(el string) *ParseError {
	e.Element = el
	return e
}

// WithOffset records the byte offset in the stream.
func (e *ParseError) WithOffset(off int) *ParseError {
	e.Offset = off
	return e
}

// Error returns the formatted error message.
func (e *ParseError) Error() string {
	var parts []string
	if e.StreamID != "" {
		parts = append(parts, fmt.Sprintf("stream=%s", e.StreamID))
	}
	if e.Element != "" {
		parts = append(parts, fmt.Sprintf("element=%s", e.Element))
	}
	if e.Offset >= 0 {
		parts = append(parts, fmt.Sprintf("offset=%d", e.Offset))
	}

	prefix := "parse error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("parse error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ParseError) Is(target error) bool {
	if _, ok := target.(*ParseError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Timeout Errors
// -----------------------------------------------------------------------------

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("GET /process/p1", 10*time.Second)
//	fmt.Println(err) // "timeout error: GET /process/p1 (timeout: 10s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			kind:       KindTimeout,
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Dispatch Errors
// -----------------------------------------------------------------------------

// HaltError reports that an artifact's action queue stopped after a blocking
// action failed.
type HaltError struct {
	baseError
	ArtifactID string
	ActionID   string
	Skipped    int
}

// NewHaltError creates a new HaltError caused by the failing action's error.
func NewHaltError(artifactID, actionID string, cause error) *HaltError {
	return &HaltError{
		baseError: baseError{
			kind:       KindOf(cause),
			message:    "artifact halted after failed action",
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		ArtifactID: artifactID,
		ActionID:   actionID,
	}
}

// WithSkipped records how many queued actions were skipped.
func (e *HaltError) WithSkipped(n int) *HaltError {
	e.Skipped = n
	return e
}

// Error returns the formatted error message.
func (e *HaltError) Error() string {
	prefix := fmt.Sprintf("dispatch error [artifact=%s, action=%s, skipped=%d]", e.ArtifactID, e.ActionID, e.Skipped)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// KindOf returns the taxonomy kind of err. Context deadline errors map to
// KindTimeout; anything unclassified is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var be BoltkitError
	if As(err, &be) {
		return be.Kind()
	}

	switch {
	case Is(err, context.DeadlineExceeded), Is(err, ErrTimeout):
		return KindTimeout
	case Is(err, ErrNotFound):
		return KindNotFound
	case Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case Is(err, ErrNotSupported):
		return KindNotSupported
	}
	return KindUnknown
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, context.Canceled) {
		return false
	}

	var be BoltkitError
	if As(err, &be) {
		return be.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var be BoltkitError
	if As(err, &be) {
		return be.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement BoltkitError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var be BoltkitError
	if As(err, &be) {
		return be.Severity()
	}
	return SeverityError
}

// CodeOf returns the POSIX-style code for err, preferring an explicit
// BackendError code.
func CodeOf(err error) string {
	var be *BackendError
	if As(err, &be) && be.Code != "" {
		return be.Code
	}
	return KindOf(err).Code()
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike a fresh error, this preserves the BoltkitError interface in the chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
