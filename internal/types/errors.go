package types

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindMissingEntity     ErrorKind = "missing_entity"
	KindLeaseHeld         ErrorKind = "lease_held"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindAmbiguousMatch    ErrorKind = "ambiguous_destination_match"
	KindMalformedTaskName ErrorKind = "malformed_task_name"
)

// TaskError is a terminal outcome of a task delivery. The queue layer reports
// it with a distinguished status; anything else is treated as retryable.
type TaskError struct {
	Kind   ErrorKind
	Entity string
	Reason string
	Err    error
}

func (e *TaskError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Entity != "" {
		msg = fmt.Sprintf("%s (entity: %s)", msg, e.Entity)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func NewTaskError(kind ErrorKind, entity, reason string) *TaskError {
	return &TaskError{
		Kind:   kind,
		Entity: entity,
		Reason: reason,
	}
}

func (e *TaskError) WithCause(err error) *TaskError {
	e.Err = err
	return e
}

func IsTaskError(err error) bool {
	var te *TaskError
	return errors.As(err, &te)
}

func IsKind(err error, kind ErrorKind) bool {
	var te *TaskError
	if !errors.As(err, &te) {
		return false
	}
	return te.Kind == kind
}
