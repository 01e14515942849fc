package pipeline

import (
	"errors"
	"fmt"
)

// ErrorClass partitions epoch processing failures. Connection, boundary,
// query and persistence failures are contained to the epoch that raised
// them; fatal failures abort the whole run.
type ErrorClass string

const (
	ErrorClassConnection  ErrorClass = "connection"
	ErrorClassBoundary    ErrorClass = "boundary"
	ErrorClassQuery       ErrorClass = "query"
	ErrorClassPersistence ErrorClass = "persistence"
	ErrorClassFatal       ErrorClass = "fatal"
)

type EpochError struct {
	Class ErrorClass
	Epoch int64
	Err   error
}

func (e *EpochError) Error() string {
	return fmt.Sprintf("epoch %d: %s error: %v", e.Epoch, e.Class, e.Err)
}

func (e *EpochError) Unwrap() error {
	return e.Err
}

func NewConnectionError(epoch int64, err error) *EpochError {
	return &EpochError{Class: ErrorClassConnection, Epoch: epoch, Err: err}
}

func NewBoundaryError(epoch int64, err error) *EpochError {
	return &EpochError{Class: ErrorClassBoundary, Epoch: epoch, Err: err}
}

func NewQueryError(epoch int64, err error) *EpochError {
	return &EpochError{Class: ErrorClassQuery, Epoch: epoch, Err: err}
}

func NewPersistenceError(epoch int64, err error) *EpochError {
	return &EpochError{Class: ErrorClassPersistence, Epoch: epoch, Err: err}
}

func NewFatalError(epoch int64, err error) *EpochError {
	return &EpochError{Class: ErrorClassFatal, Epoch: epoch, Err: err}
}

// ClassOf returns the class of an epoch processing error, defaulting to
// query for errors raised outside the taxonomy.
func ClassOf(err error) ErrorClass {
	var epochErr *EpochError
	if errors.As(err, &epochErr) {
		return epochErr.Class
	}
	return ErrorClassQuery
}

func IsFatal(err error) bool {
	return ClassOf(err) == ErrorClassFatal
}
