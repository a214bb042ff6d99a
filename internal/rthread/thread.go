// Package rthread implements the Thread external collaborator: a
// joinable worker with goroutine-local identity, published through a
// startup handshake before it runs its callable, and locked to its OS
// thread so affinity pinning is meaningful.
package rthread

import (
	"runtime"
	"sync/atomic"

	"github.com/corowire/fibersched/internal/glocal"
)

var idCounter atomic.Int64

// Thread is a joinable OS-thread-affine worker goroutine.
type Thread struct {
	id   int64
	name string
	done chan struct{}
}

var currents = glocal.NewMap[*Thread]()

// Spawn launches fn on a new goroutine that has called
// runtime.LockOSThread, after publishing the Thread's identity through
// a binary-semaphore startup handshake: fn never observes a *Thread
// whose ID/Name are not yet valid.
func Spawn(fn func(t *Thread), name string) *Thread {
	t := &Thread{
		id:   idCounter.Add(1),
		name: name,
		done: make(chan struct{}),
	}
	ready := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		currents.Set(t)
		close(ready)
		defer close(t.done)
		fn(t)
	}()
	<-ready
	return t
}

// Join blocks until t's callable returns.
func (t *Thread) Join() {
	<-t.done
}

// ID returns the thread's logical identity, stable for its lifetime.
func (t *Thread) ID() int64 { return t.id }

// Name returns the name Spawn was given.
func (t *Thread) Name() string { return t.name }

// Current returns the Thread representing the calling goroutine, or
// nil if it was not created via Spawn.
func Current() *Thread {
	t, _ := currents.Get()
	return t
}
