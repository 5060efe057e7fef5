package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the outcome code carried by a Status
type ErrorCode int

const (
	OK    ErrorCode = 0
	ERROR ErrorCode = 1
)

// String returns a string representation of the error code
func (c ErrorCode) String() string {
	switch c {
	case OK:
		return "OK"
	case ERROR:
		return "ERROR"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Status is the result of a mutation or a failed read.
// An OK status never carries a message.
type Status struct {
	ErrorCode    ErrorCode `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// OKStatus returns the successful status
func OKStatus() Status {
	return Status{ErrorCode: OK}
}

// ErrorStatus returns a failed status with the given message
func ErrorStatus(message string) Status {
	return Status{ErrorCode: ERROR, ErrorMessage: message}
}

// ErrorStatusf returns a failed status with a formatted message
func ErrorStatusf(format string, args ...any) Status {
	return ErrorStatus(fmt.Sprintf(format, args...))
}

// StatusFromError normalizes a Go error into a Status. A nil error is OK.
func StatusFromError(err error) Status {
	if err == nil {
		return OKStatus()
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return ErrorStatus(err.Error())
}

// IsOK reports whether the status represents success
func (s Status) IsOK() bool {
	return s.ErrorCode == OK
}

// Err converts the status to an error, nil when OK
func (s Status) Err() error {
	if s.IsOK() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError wraps a failed Status so it can travel as a Go error
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	if e.Status.ErrorMessage == "" {
		return e.Status.ErrorCode.String()
	}
	return e.Status.ErrorMessage
}

// NotFoundStatus returns the status every source reports for a key-field miss
func NotFoundStatus(keyField string) Status {
	return ErrorStatusf("Not found by %s", keyField)
}

// KeyFieldMissingStatus returns the status of an update payload without its key
func KeyFieldMissingStatus(keyField string) Status {
	return ErrorStatusf("Key field %s is required", keyField)
}

// ContextStatus maps a finished context to an error status
func ContextStatus(ctx context.Context) Status {
	return ErrorStatus(fmt.Sprintf("operation aborted: %v", ctx.Err()))
}
