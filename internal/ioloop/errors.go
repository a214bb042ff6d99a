package ioloop

import "errors"

var (
	// ErrDuplicateEvent is returned by AddEvent when the requested
	// direction is already armed for the fd. Callers that want to
	// replace a registration should DelEvent then AddEvent.
	ErrDuplicateEvent = errors.New("ioloop: direction already armed for this fd")
	// ErrNotSupported is returned by the non-Linux poller backend for
	// fd-readiness operations it cannot honor.
	ErrNotSupported = errors.New("ioloop: fd readiness polling not supported on this platform")
)
