package haul

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable domain error code. Every expected,
// user-triggerable condition maps to a Code; generic faults are reserved for
// infrastructure errors.
type Code string

const (
	CodeSourceNotReady      Code = "SOURCE_NOT_READY"
	CodeJobAlreadyExists    Code = "JOB_ALREADY_EXISTS"
	CodeJobRetrying         Code = "JOB_RETRYING"
	CodeNoDestination       Code = "NO_DESTINATION"
	CodeJobNotFound         Code = "JOB_NOT_FOUND"
	CodeJobCompleted        Code = "JOB_COMPLETED"
	CodeJobCancelled        Code = "JOB_CANCELLED"
	CodeJobRefunded         Code = "JOB_REFUNDED"
	CodeJobActive           Code = "JOB_ACTIVE"
	CodeDestinationInactive Code = "DESTINATION_INACTIVE"
	CodePushInProgress      Code = "PUSH_IN_PROGRESS"
	CodeNotFailed           Code = "NOT_FAILED"
	CodeAlreadyRefunded     Code = "ALREADY_REFUNDED"
	CodeNoCharge            Code = "NO_CHARGE"
	CodeLockBusy            Code = "LOCK_BUSY"
	CodeHandlerUnresolved   Code = "HANDLER_UNRESOLVED"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
)

// DomainError is a discriminated domain failure carrying a stable code.
type DomainError struct {
	Code    Code
	Message string
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds a DomainError with a formatted message.
func E(code Code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the domain code from an error chain. The second return is
// false when err carries no domain code.
func CodeOf(err error) (Code, bool) {
	var de *DomainError
	if !errors.As(err, &de) {
		return "", false
	}
	return de.Code, true
}

// IsCode reports whether err carries the given domain code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
