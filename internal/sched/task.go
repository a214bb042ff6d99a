package sched

import "github.com/corowire/fibersched/internal/fiber"

// Task is a tagged record holding either an owned fiber or a callable,
// plus an optional target worker id (-1 meaning "any worker").
type Task struct {
	Fiber  *fiber.Fiber
	Fn     func()
	Thread int
}

// Valid reports whether exactly one of Fiber/Fn is set. A task with
// neither is never enqueued.
func (t Task) Valid() bool {
	return (t.Fiber != nil) != (t.Fn != nil)
}
