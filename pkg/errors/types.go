// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error types for the controller core.
package errors

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Kind is a semantic error kind as named in the controller's error handling design.
type Kind string

const (
	KindInvalidTimeValue   Kind = "INVALID_TIME_VALUE"
	KindInvalidNodeName    Kind = "INVALID_NODE_NAME"
	KindInvalidPartition   Kind = "INVALID_PARTITION"
	KindInvalidAccount     Kind = "INVALID_ACCOUNT"
	KindInvalidUser        Kind = "INVALID_USER"
	KindReservationInvalid Kind = "RESERVATION_INVALID"
	KindReservationNameDup Kind = "RESERVATION_NAME_DUP"
	KindAccessDenied       Kind = "ACCESS_DENIED"
	KindNoResources        Kind = "NO_RESOURCES"
	KindAlreadyRunning     Kind = "ALREADY_RUNNING"
	KindNotFound           Kind = "NOT_FOUND"
	KindUnexpectedMessage  Kind = "UNEXPECTED_MESSAGE"
	KindSocketError        Kind = "SOCKET_ERROR"
	KindDBConnection       Kind = "DB_CONNECTION"
	KindNoChangeInData     Kind = "NO_CHANGE_IN_DATA"
	KindHasJobs            Kind = "HAS_JOBS"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
)

// retryableKinds are the kinds for which a caller may usefully retry the
// request unchanged (transient collaborator failure, not a validation defect).
var retryableKinds = map[Kind]bool{
	KindDBConnection: true,
	KindSocketError:  true,
}

// ControllerError is the single structured error type returned by every
// exported controller operation. A non-nil error from any subsystem in this
// module is always either a *ControllerError or wraps one.
type ControllerError struct {
	Kind      Kind
	Message   string
	Field     string
	Value     any
	Cause     error
	Timestamp time.Time
}

func (e *ControllerError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (%s=%v)", e.Kind, e.Message, e.Field, e.Value)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ControllerError) Unwrap() error { return e.Cause }

// Is lets errors.Is match on Kind alone, ignoring message/field/cause.
func (e *ControllerError) Is(target error) bool {
	t, ok := target.(*ControllerError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the operation that produced this error may
// succeed unchanged on retry. Nothing in this module consults it
// automatically; pkg/retry retries on any error.
func (e *ControllerError) Retryable() bool {
	return retryableKinds[e.Kind]
}

// New creates a ControllerError of the given kind.
func New(kind Kind, message string) *ControllerError {
	return &ControllerError{Kind: kind, Message: message, Timestamp: time.Now()}
}

// Wrap creates a ControllerError of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *ControllerError {
	return &ControllerError{Kind: kind, Message: message, Cause: cause, Timestamp: time.Now()}
}

// Field creates a field-level validation error.
func Field(kind Kind, message, field string, value any) *ControllerError {
	return &ControllerError{Kind: kind, Message: message, Field: field, Value: value, Timestamp: time.Now()}
}

// Aggregate collects zero or more validation errors from an independent set
// of field checks (reservation create validation checks every field
// rather than stopping at the first failure).
type Aggregate struct {
	errs *multierror.Error
}

func (a *Aggregate) Add(err error) {
	if err == nil {
		return
	}
	a.errs = multierror.Append(a.errs, err)
}

// ErrorOrNil returns nil if nothing was added, the lone error if exactly one
// was added, or a ControllerError wrapping the full multierror otherwise.
func (a *Aggregate) ErrorOrNil(kind Kind, summary string) error {
	if a.errs == nil || len(a.errs.Errors) == 0 {
		return nil
	}
	if len(a.errs.Errors) == 1 {
		return a.errs.Errors[0]
	}
	return Wrap(kind, summary, a.errs.ErrorOrNil())
}
