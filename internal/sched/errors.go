package sched

import "errors"

var (
	// ErrInvalidTask is returned by Schedule for a Task with neither a
	// fiber nor a callable.
	ErrInvalidTask = errors.New("sched: task has neither fiber nor fn")
	// ErrUnknownWorker is returned by Schedule when Task.Thread names a
	// worker id that does not exist. Resolves the "pin to an absent
	// worker" open question as reject-at-enqueue.
	ErrUnknownWorker = errors.New("sched: unknown target worker")
	// ErrSchedulerStopped is returned by Start/Schedule once the
	// scheduler has begun stopping.
	ErrSchedulerStopped = errors.New("sched: scheduler stopped")
)
