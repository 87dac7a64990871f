package sampler

import "fmt"

// Error is returned by [Stream.Load]. Both kinds are terminal: the stream
// stays unusable until a later Load succeeds.
type Error int

const (
	ErrBadFile       Error = 1 // container missing, unreadable or structurally invalid
	ErrBadSampleSize Error = 2 // container bit depth doesn't match the sample type
)

func (e Error) Error() string {
	return fmt.Sprintf("sampler: %v", e.name())
}

func (e Error) name() string {
	switch e {
	case ErrBadFile:
		return "bad file"
	case ErrBadSampleSize:
		return "sample size mismatch"
	default:
		return fmt.Sprintf("unknown error code: %v", int(e))
	}
}
