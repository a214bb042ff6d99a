package fiber

import "errors"

var (
	// ErrNotReady is returned by Resume when the fiber is not in the
	// Ready state.
	ErrNotReady = errors.New("fiber: not in READY state")
	// ErrNotTerm is returned by Reset when the fiber has not reached
	// the Term state.
	ErrNotTerm = errors.New("fiber: not in TERM state")
)
