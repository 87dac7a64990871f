package wav

import (
	"github.com/pkg/errors"
)

// ErrMalformed is reported for every open failure: the storage could not be
// opened, a tag didn't match, a header was truncated or a seek failed.
// Use errors.Is to test for it; the underlying cause is wrapped.
var ErrMalformed = errors.New("wav: malformed or unreadable container")

// MalformedError carries the cause of an open failure.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return ErrMalformed.Error() + ": " + e.Err.Error()
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

func malformed(cause error, context string) error {
	return &MalformedError{Err: errors.Wrap(cause, context)}
}

func malformedf(format string, args ...any) error {
	return &MalformedError{Err: errors.Errorf(format, args...)}
}
