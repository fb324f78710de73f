package storage

import (
	"errors"
	"fmt"
)

// ErrStorage matches every *Error with errors.Is.
var ErrStorage = errors.New("storage failure")

// Error wraps a failure of the underlying store. Callers log it in full and
// show end users a generic message.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStorage }

// Wrap returns nil for a nil err, otherwise a *Error for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
