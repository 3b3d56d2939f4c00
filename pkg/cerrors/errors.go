// Package cerrors defines the error taxonomy raised by Command execution:
// a BaseError foundation shared by every failure type, plus the specific
// RuntimeFailure and BadRequestFailure surfaces a caller of circuitry sees.
package cerrors

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Severity classifies how serious an error is, independent of its FailureType.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// BaseError is the foundation every circuitry error embeds: a machine
// readable code, a human message, severity, structured details, and an
// optional cause chain.
type BaseError struct {
	Code      string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func newBase(code, message string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Severity, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
}

func (e *BaseError) Unwrap() error { return e.Cause }

// WithDetail attaches a structured detail and returns the receiver for chaining.
func (e *BaseError) WithDetail(key string, value interface{}) *BaseError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause and returns the receiver for chaining.
func (e *BaseError) WithCause(cause error) *BaseError {
	e.Cause = cause
	return e
}

// FailureType is the closed set of ways a Command invocation can fail.
type FailureType int

const (
	// FailureCommandException means run() threw anything other than BadRequest.
	FailureCommandException FailureType = iota
	// FailureTimeout means the thread-isolated run() exceeded its deadline.
	FailureTimeout
	// FailureShortcircuit means the circuit breaker was open.
	FailureShortcircuit
	// FailureRejectedThreadExecution means the pool's admission predicate denied entry.
	FailureRejectedThreadExecution
	// FailureRejectedSemaphoreExecution means the execution semaphore's tryAcquire failed.
	FailureRejectedSemaphoreExecution
	// FailureRejectedSemaphoreFallback names the fallback-semaphore rejection
	// as a FailureType.
	//
	// Kept distinct from FallbackException's sentinel value of the same name.
	// The command runtime does not set this FailureType: when the fallback
	// semaphore rejects, the RuntimeFailure keeps the FailureType that
	// triggered the fallback and records FallbackRejectedSemaphoreFallback
	// as its FallbackException.
	FailureRejectedSemaphoreFallback
)

func (f FailureType) String() string {
	switch f {
	case FailureCommandException:
		return "CommandException"
	case FailureTimeout:
		return "Timeout"
	case FailureShortcircuit:
		return "Shortcircuit"
	case FailureRejectedThreadExecution:
		return "RejectedThreadExecution"
	case FailureRejectedSemaphoreExecution:
		return "RejectedSemaphoreExecution"
	case FailureRejectedSemaphoreFallback:
		return "RejectedSemaphoreFallback"
	default:
		return "Unknown"
	}
}

// FallbackException is the sentinel recorded in RuntimeFailure.FallbackException
// when the fallback itself could not be attempted or threw.
type FallbackException int

const (
	// FallbackNone means no fallback exception is recorded (fallback disabled, or not attempted).
	FallbackNone FallbackException = iota
	// FallbackRejectedSemaphoreFallback means the fallback semaphore rejected the attempt.
	FallbackRejectedSemaphoreFallback
	// FallbackThrew means getFallback() itself returned an error.
	FallbackThrew
)

func (f FallbackException) String() string {
	switch f {
	case FallbackRejectedSemaphoreFallback:
		return "RejectedSemaphoreFallback"
	case FallbackThrew:
		return "FallbackThrew"
	default:
		return "None"
	}
}

// RuntimeFailure is the error a Command returns for every failure mode
// except BadRequest.
type RuntimeFailure struct {
	*BaseError
	FailureType       FailureType
	FallbackException FallbackException
	FallbackCause     error
}

// NewRuntimeFailure builds a RuntimeFailure for the given type and primary cause.
func NewRuntimeFailure(ft FailureType, cause error) *RuntimeFailure {
	rf := &RuntimeFailure{
		BaseError:   newBase("CIRCUITRY_RUNTIME_FAILURE", ft.String()),
		FailureType: ft,
	}
	if cause != nil {
		rf.BaseError.WithCause(cause)
	}
	rf.BaseError.WithDetail("failure_type", ft.String())
	return rf
}

// WithFallbackError records that the fallback itself failed, combining the
// primary cause and the fallback's cause for Error()/Unwrap() traversal.
func (rf *RuntimeFailure) WithFallbackError(kind FallbackException, err error) *RuntimeFailure {
	rf.FallbackException = kind
	rf.FallbackCause = err
	rf.BaseError.WithDetail("fallback_exception", kind.String())
	if err != nil {
		rf.BaseError.Cause = multierr.Append(rf.BaseError.Cause, err)
	}
	return rf
}

func (rf *RuntimeFailure) Error() string {
	if rf.FallbackException != FallbackNone {
		return fmt.Sprintf("circuitry: %s (fallback: %s): %s", rf.FailureType, rf.FallbackException, rf.BaseError.Error())
	}
	return fmt.Sprintf("circuitry: %s: %s", rf.FailureType, rf.BaseError.Error())
}

// BadRequestFailure wraps a run() error that the caller signalled as an
// invalid-input condition: it propagates untouched, bypassing fallback and
// leaving the circuit breaker and rolling metrics' error counters untouched.
type BadRequestFailure struct {
	*BaseError
}

// NewBadRequestFailure wraps cause as a pass-through, non-countable failure.
func NewBadRequestFailure(cause error) *BadRequestFailure {
	return &BadRequestFailure{
		BaseError: newBase("CIRCUITRY_BAD_REQUEST", "bad request").WithCause(cause),
	}
}

func (e *BadRequestFailure) Error() string {
	return fmt.Sprintf("circuitry: BadRequest: %s", e.BaseError.Error())
}

// IsBadRequest reports whether err is (or wraps) a BadRequestFailure.
func IsBadRequest(err error) bool {
	var bad *BadRequestFailure
	return errors.As(err, &bad)
}

// AsRuntimeFailure reports whether err is a *RuntimeFailure, returning it if so.
func AsRuntimeFailure(err error) (*RuntimeFailure, bool) {
	rf, ok := err.(*RuntimeFailure)
	return rf, ok
}
