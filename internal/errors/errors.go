// Package errors provides the simulation engine's structured error
// taxonomy: configuration errors, runtime warnings, and programmer
// assertions, per the engine's error handling design.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a specific failure condition.
type ErrorCode string

// Severity classes the three error kinds the engine distinguishes.
type Severity string

const (
	SeverityConfig    Severity = "configuration" // fail fast, before run
	SeverityRuntime   Severity = "runtime"        // continue, log
	SeverityAssertion Severity = "assertion"      // fatal, indicates a kernel bug
)

const (
	// Configuration errors (CFG_xxxx)
	ErrCodeUnstableQueue        ErrorCode = "CFG_1001"
	ErrCodeInvalidDistParams    ErrorCode = "CFG_1002"
	ErrCodeUnknownResource      ErrorCode = "CFG_1003"
	ErrCodeProbabilitiesInvalid ErrorCode = "CFG_1004"
	ErrCodeWarmupExceedsEnd     ErrorCode = "CFG_1005"

	// Runtime warnings (RUN_xxxx)
	ErrCodeUnknownStepKind ErrorCode = "RUN_2001"
	ErrCodeUnknownDist     ErrorCode = "RUN_2002"
	ErrCodeMissingProcess  ErrorCode = "RUN_2003"
	ErrCodeQueueOverflow   ErrorCode = "RUN_2004"

	// Programmer errors (ASSERT_xxxx)
	ErrCodeNegativeInUse     ErrorCode = "ASSERT_3001"
	ErrCodeAdvanceOnDeparted ErrorCode = "ASSERT_3002"
	ErrCodePopEmptyQueue     ErrorCode = "ASSERT_3003"
)

// SimError is the engine's structured error type.
type SimError struct {
	Code     ErrorCode
	Severity Severity
	Message  string
	Details  map[string]interface{}
	Err      error
}

// Error implements the error interface.
func (e *SimError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *SimError) Unwrap() error {
	return e.Err
}

// WithDetails attaches additional diagnostic context.
func (e *SimError) WithDetails(key string, value interface{}) *SimError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a SimError without a wrapped cause.
func New(code ErrorCode, severity Severity, message string) *SimError {
	return &SimError{Code: code, Severity: severity, Message: message}
}

// Wrap creates a SimError around an existing error.
func Wrap(code ErrorCode, severity Severity, message string, err error) *SimError {
	return &SimError{Code: code, Severity: severity, Message: message, Err: err}
}

// Configuration errors

func UnstableQueue(lambda, mu float64, servers int) *SimError {
	return New(ErrCodeUnstableQueue, SeverityConfig, "queue is unstable: arrival rate meets or exceeds service capacity").
		WithDetails("lambda", lambda).
		WithDetails("mu", mu).
		WithDetails("servers", servers)
}

func InvalidDistributionParams(family, reason string) *SimError {
	return New(ErrCodeInvalidDistParams, SeverityConfig, "invalid distribution parameters").
		WithDetails("family", family).
		WithDetails("reason", reason)
}

func UnknownResource(resourceID string) *SimError {
	return New(ErrCodeUnknownResource, SeverityConfig, "step references unknown resource").
		WithDetails("resource_id", resourceID)
}

func ProbabilitiesInvalid(stepID string, sum float64) *SimError {
	return New(ErrCodeProbabilitiesInvalid, SeverityConfig, "decision branch probabilities must sum to 1.0").
		WithDetails("step_id", stepID).
		WithDetails("sum", sum)
}

func WarmupExceedsEnd(warmup, end float64) *SimError {
	return New(ErrCodeWarmupExceedsEnd, SeverityConfig, "warmup time is greater than or equal to end time").
		WithDetails("warmup", warmup).
		WithDetails("end", end)
}

// Runtime warnings

func UnknownStepKind(kind string) *SimError {
	return New(ErrCodeUnknownStepKind, SeverityRuntime, "unknown step kind treated as no-op").
		WithDetails("kind", kind)
}

func UnknownDistribution(tag string) *SimError {
	return New(ErrCodeUnknownDist, SeverityRuntime, "unknown distribution tag, returning 1").
		WithDetails("tag", tag)
}

func MissingProcess(entityType string) *SimError {
	return New(ErrCodeMissingProcess, SeverityRuntime, "entity type has no bound process, entity departs immediately").
		WithDetails("entity_type", entityType)
}

func QueueOverflow(maxEvents int) *SimError {
	return New(ErrCodeQueueOverflow, SeverityRuntime, "maxEvents guard reached, stopping replication").
		WithDetails("max_events", maxEvents)
}

// Assertions — panics carrying a SimError, for kernel invariant violations.

func AssertNegativeInUse(resourceID string, inUse int) {
	panic(New(ErrCodeNegativeInUse, SeverityAssertion, "resource inUse went negative").
		WithDetails("resource_id", resourceID).
		WithDetails("in_use", inUse))
}

func AssertAdvanceOnDeparted(entityID string) {
	panic(New(ErrCodeAdvanceOnDeparted, SeverityAssertion, "advance called on departed entity").
		WithDetails("entity_id", entityID))
}

func AssertPopEmptyQueue() {
	panic(New(ErrCodePopEmptyQueue, SeverityAssertion, "popMin called on empty event queue"))
}

// Helpers

// IsSimError reports whether err is (or wraps) a *SimError.
func IsSimError(err error) bool {
	var simErr *SimError
	return errors.As(err, &simErr)
}

// GetSimError extracts a *SimError from an error chain.
func GetSimError(err error) *SimError {
	var simErr *SimError
	if errors.As(err, &simErr) {
		return simErr
	}
	return nil
}
