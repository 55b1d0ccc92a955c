package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrLaneFull is returned by Queue.EnqueueAtBack when the lane has no room
	// behind its last vehicle.
	ErrLaneFull = errors.New("lane full")

	// ErrUnknownPolicy is returned for unrecognized policy names.
	ErrUnknownPolicy = errors.New("unknown policy")
)

// InvariantError reports a kernel bug: state that must never occur, such as a
// command scheduled in the past or two cars in one parking spot. It is raised
// with panic and recovered only at the Run boundary.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Msg }

func invariantf(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}
