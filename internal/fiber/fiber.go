// Package fiber implements a stackful-coroutine equivalent: a goroutine
// paired with an explicit resume/yield rendezvous.
//
// Go gives every goroutine its own growable stack already, so there is
// no manually managed stack region to allocate here (unlike the source
// this runtime is modeled on). What is preserved is the contract: a
// Fiber never runs except while some other execution context is
// blocked inside its Resume, and it never returns control except by
// calling Yield — the Go scheduler's preemption is never relied upon.
package fiber

import (
	"sync/atomic"

	"github.com/corowire/fibersched/internal/glocal"
)

// State is the three-state Fiber lifecycle.
type State int32

const (
	Ready State = iota
	Running
	Term
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Term:
		return "TERM"
	default:
		return "UNKNOWN"
	}
}

var idCounter atomic.Uint64

// Fiber is a cooperatively scheduled coroutine.
type Fiber struct {
	id             uint64
	state          atomic.Int32
	runInScheduler bool
	stackSize      int
	isThreadRoot   bool

	fn        func()
	started   atomic.Bool
	resumeCh  chan struct{}
	yieldCh   chan struct{}
	inherited slot

	// recovered holds a panic value caught by trampoline, if fn panicked.
	// Written once from the fiber's own goroutine before the Term-state
	// yieldCh send; that send's happens-before guarantee makes the plain
	// field safe to read from Resume's caller afterward.
	recovered any
}

// Recovered returns the value of a panic caught while running fn, or
// nil if the fiber terminated normally (or hasn't terminated yet).
func (f *Fiber) Recovered() any { return f.recovered }

// slot is the subset of thread-local state copy-propagated from the
// resuming goroutine into a freshly spawned child Fiber's own goroutine,
// since in Go the child necessarily executes on a distinct goroutine
// from whatever resumed it.
type slot struct {
	threadRoot *Fiber
	schedFiber *Fiber
}

var slots = glocal.NewMap[*slot]()

func mySlot() *slot {
	id := glocal.ID()
	s, ok := slots.GetID(id)
	if !ok {
		s = &slot{}
		slots.SetID(id, s)
	}
	return s
}

// New constructs a Fiber bound to fn. stackSize is accepted for
// interface parity with the source's manual stack allocation; Go
// goroutines grow their own stacks, so it is informational only.
// runInScheduler records which fiber this one's Yield conceptually
// returns control to; in this implementation the return path is
// implicit in who called Resume, so the flag is exposed via
// RunInScheduler but does not drive branching.
func New(fn func(), stackSize int, runInScheduler bool) *Fiber {
	assert(fn != nil, "New: fn must not be nil")
	f := &Fiber{
		id:             idCounter.Add(1),
		fn:             fn,
		stackSize:      stackSize,
		runInScheduler: runInScheduler,
		resumeCh:       make(chan struct{}),
		yieldCh:        make(chan struct{}),
	}
	f.state.Store(int32(Ready))
	return f
}

// ID returns the fiber's identity, stable for its lifetime.
func (f *Fiber) ID() uint64 { return f.id }

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() State { return State(f.state.Load()) }

// RunInScheduler reports the flag New was constructed with.
func (f *Fiber) RunInScheduler() bool { return f.runInScheduler }

// Resume switches execution to f. The calling goroutine blocks until f
// yields or terminates. Precondition: f.State()==Ready.
func (f *Fiber) Resume() error {
	if f.State() != Ready {
		return ErrNotReady
	}
	resumerSlot := mySlot()
	f.state.Store(int32(Running))
	if f.started.CompareAndSwap(false, true) {
		root := resumerSlot.threadRoot
		sched := resumerSlot.schedFiber
		go func() {
			fs := mySlot()
			fs.threadRoot = root
			fs.schedFiber = sched
			currents.Set(f)
			f.trampoline()
		}()
	} else {
		f.resumeCh <- struct{}{}
	}
	<-f.yieldCh
	return nil
}

func (f *Fiber) trampoline() {
	fn := f.fn
	func() {
		defer func() {
			if r := recover(); r != nil {
				f.recovered = r
			}
		}()
		fn()
	}()
	f.fn = nil
	f.state.Store(int32(Term))
	f.yieldCh <- struct{}{}
}

// Yield suspends the calling fiber, returning control to whichever
// goroutine is blocked in the matching Resume. Precondition:
// f.State()∈{Running,Term}; called from within f's own goroutine.
func (f *Fiber) Yield() {
	assert(f.State() == Running || f.State() == Term, "Yield: fiber not RUNNING or TERM")
	if f.State() != Term {
		f.state.Store(int32(Ready))
	}
	terminal := f.State() == Term
	f.yieldCh <- struct{}{}
	if terminal {
		return
	}
	<-f.resumeCh
}

// Reset rebinds a terminated fiber to a new closure so it can run
// again. Precondition: f.State()==Term.
func (f *Fiber) Reset(fn func()) error {
	assert(fn != nil, "Reset: fn must not be nil")
	if f.State() != Term {
		return ErrNotTerm
	}
	f.fn = fn
	f.started.Store(false)
	f.state.Store(int32(Ready))
	return nil
}

// GetThis lazily constructs the thread-root fiber for the calling
// goroutine if none exists yet, installs it as both thread-root and
// default scheduler fiber, and returns the fiber presently current on
// this goroutine.
func GetThis() *Fiber {
	s := mySlot()
	if s.threadRoot == nil {
		root := &Fiber{
			id:           idCounter.Add(1),
			isThreadRoot: true,
		}
		root.state.Store(int32(Running))
		s.threadRoot = root
		s.schedFiber = root
	}
	if cur := currentOnThisGoroutine(); cur != nil {
		return cur
	}
	return s.threadRoot
}

// currentOnThisGoroutine reports the fiber whose own goroutine this is,
// if the calling goroutine is itself a fiber body (as opposed to a
// thread-root context).
var currents = glocal.NewMap[*Fiber]()

func currentOnThisGoroutine() *Fiber {
	f, _ := currents.Get()
	return f
}

// Current returns the fiber presently executing on the calling
// goroutine, or nil if GetThis has never been called on it.
func Current() *Fiber {
	if f := currentOnThisGoroutine(); f != nil {
		return f
	}
	s, ok := slots.Get()
	if !ok || s.threadRoot == nil {
		return nil
	}
	return s.threadRoot
}

// SetSchedulerFiber overrides the scheduling fiber for the calling
// goroutine's thread.
func SetSchedulerFiber(f *Fiber) {
	mySlot().schedFiber = f
}

// CurrentID is a convenience wrapper around Current().ID(), returning 0
// if there is no current fiber.
func CurrentID() uint64 {
	if f := Current(); f != nil {
		return f.ID()
	}
	return 0
}

// Yield suspends whichever fiber is current on the calling goroutine.
// It is a no-op if there is none (a bare thread-root with nothing to
// yield to meaningfully).
func Yield() {
	if f := currentOnThisGoroutine(); f != nil {
		f.Yield()
	}
}
