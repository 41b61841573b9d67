package store

import (
	"errors"
	"fmt"
)

// StorageError reports a failure of the underlying storage engine. The
// wrapped operation has been rolled back: callers must treat it as a failed
// mutation with no partial side effects. Retry policy, if any, belongs to
// the caller.
type StorageError struct {
	// Op names the failed operation, e.g. "append message".
	Op string
	// Err is the underlying driver error.
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
