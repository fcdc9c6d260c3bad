package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when a record does not exist or
// belongs to another user.
var ErrNotFound = errors.New("record not found")

// ValidationError reports caller input that was rejected before any
// persistence call was made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a failure from the storage collaborator. The
// original cause is available through errors.Unwrap / errors.Is.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
