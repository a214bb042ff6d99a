// Package ioloop implements IOManager: the epoll-style readiness
// multiplexer that specializes both Scheduler and TimerManager,
// embedding both so it is simultaneously a Scheduler and a
// TimerManager.
package ioloop

import (
	"sync"
	"sync/atomic"

	"github.com/corowire/fibersched/control"
	"github.com/corowire/fibersched/internal/fiber"
	"github.com/corowire/fibersched/internal/sched"
)

// Event is a readiness direction bitmask.
type Event uint8

const (
	None  Event = 0
	Read  Event = 1 << 0
	Write Event = 1 << 1
)

// maxEpollTimeoutMS caps how long a single idle-loop poll blocks, so a
// clock rollover or a timer inserted without reaching onFront in time
// is still bounded.
const maxEpollTimeoutMS = 5000

// Outcome is delivered to callers that want to distinguish ordinary
// readiness completion from a cancel_event/cancel_all-synthesized one.
// See AddEvent's doc comment for the closure pattern used to receive
// it, since the underlying source's callback shape takes no arguments.
type Outcome struct {
	Cancelled bool
}

type eventSlot struct {
	scheduler *sched.Scheduler
	fiberH    *fiber.Fiber
	cb        func()
	outcome   *Outcome
}

// FdContext is the per-fd readiness-registration record: which
// directions are armed and what to schedule when each fires.
type FdContext struct {
	mu     sync.Mutex
	fd     int
	events Event
	slots  [2]eventSlot
}

func dirIndex(ev Event) int {
	if ev == Read {
		return 0
	}
	return 1
}

// poller is the platform-specific epoll-equivalent backend.
type poller interface {
	register(fd int, interest Event, isNew bool) error
	unregister(fd int) error
	wait(timeoutMs int) ([]pollerEvent, error)
	wake()
	close() error
}

type pollerEvent struct {
	fd     int
	mask   Event
	errHup bool
}

// IOManager is a Scheduler and a TimerManager simultaneously,
// specialized with an epoll-backed idle loop.
type IOManager struct {
	*sched.Scheduler
	*sched.TimerManager

	mu      sync.RWMutex
	fds     []*FdContext
	pending atomic.Int64
	poller  poller

	log     *control.Logger
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
}

// SetLogger installs a diagnostic logger, used to report fd
// registration failures. Optional; also propagated to the embedded
// Scheduler and TimerManager.
func (m *IOManager) SetLogger(log *control.Logger) {
	m.log = log
	m.Scheduler.SetLogger(log)
	m.TimerManager.SetLogger(log)
}

// SetMetrics installs a metrics sink, refreshed with the pending-event
// count as fds are armed and fire. Optional; also propagated to the
// embedded Scheduler and TimerManager.
func (m *IOManager) SetMetrics(mr *control.MetricsRegistry) {
	m.metrics = mr
	m.Scheduler.SetMetrics(mr)
	m.TimerManager.SetMetrics(mr)
}

func (m *IOManager) reportPending() {
	if m.metrics != nil {
		m.metrics.Set(control.MetricPendingEvents, m.pending.Load())
	}
}

// Logger returns the logger installed by SetLogger, or nil.
func (m *IOManager) Logger() *control.Logger { return m.log }

// Metrics returns the metrics sink installed by SetMetrics, or nil.
func (m *IOManager) Metrics() *control.MetricsRegistry { return m.metrics }

// Probes returns the debug probe registry installed by SetProbes, or nil.
func (m *IOManager) Probes() *control.DebugProbes { return m.probes }

// SetProbes installs a probe registry and registers the pending-event
// count, plus the embedded Scheduler's and TimerManager's own probes,
// into it.
func (m *IOManager) SetProbes(dp *control.DebugProbes) {
	m.probes = dp
	if dp == nil {
		return
	}
	dp.RegisterProbe(m.Scheduler.Name()+".pending_events", func() any { return m.pending.Load() })
	m.Scheduler.SetProbes(dp)
	m.TimerManager.RegisterDefaultProbes(dp)
}

// New constructs an IOManager with the given worker topology.
func New(workers int, useCaller bool, name string) (*IOManager, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	m := &IOManager{
		TimerManager: sched.NewTimerManager(),
		poller:       p,
		fds:          make([]*FdContext, 32),
	}
	for i := range m.fds {
		m.fds[i] = &FdContext{fd: i}
	}
	m.Scheduler = sched.New(workers, useCaller, name)
	m.Scheduler.SetHooks(m)
	m.TimerManager.OnInsertedAtFront(m.Tickle)
	byScheduler.Store(m.Scheduler, m)
	return m, nil
}

// Current returns the IOManager running on the calling goroutine's
// scheduler, or nil if the current scheduler is not an IOManager (or
// there is none).
func Current() *IOManager {
	s := sched.Current()
	if s == nil {
		return nil
	}
	v, ok := byScheduler.Load(s)
	if !ok {
		return nil
	}
	return v.(*IOManager)
}

func (m *IOManager) ctxFor(fd int) *FdContext {
	m.mu.RLock()
	if fd >= 0 && fd < len(m.fds) {
		c := m.fds[fd]
		m.mu.RUnlock()
		return c
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if fd >= len(m.fds) {
		newSize := int(float64(fd+1) * 1.5)
		grown := make([]*FdContext, newSize)
		copy(grown, m.fds)
		for i := len(m.fds); i < newSize; i++ {
			grown[i] = &FdContext{fd: i}
		}
		m.fds = grown
	}
	return m.fds[fd]
}

// AddEvent arms ev on fd. If cb is nil, the current fiber (per
// fiber.GetThis) is captured instead: its own resume is the
// notification. AddEvent returns an *Outcome the cb can inspect once
// invoked — the caller must declare its cb-holding variable before the
// call and assign from the returned pointer, an ordinary Go
// forward-reference-by-closure, since the underlying source's cb takes
// no parameters:
//
//	var outcome *ioloop.Outcome
//	cb := func() {
//	    if outcome.Cancelled { ... } else { ... }
//	}
//	outcome, err = m.AddEvent(fd, ioloop.Read, cb)
func (m *IOManager) AddEvent(fd int, ev Event, cb func()) (*Outcome, error) {
	assert(ev == Read || ev == Write, "AddEvent: event must be exactly one direction")
	ctx := m.ctxFor(fd)
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.events&ev != 0 {
		return nil, ErrDuplicateEvent
	}

	isNew := ctx.events == None
	newInterest := ctx.events | ev
	if err := m.poller.register(fd, newInterest, isNew); err != nil {
		if m.log != nil {
			control.LogFdRegisterFailure(m.log, fd, err)
		}
		return nil, err
	}

	outcome := &Outcome{}
	slot := &ctx.slots[dirIndex(ev)]
	slot.scheduler = sched.Current()
	slot.outcome = outcome
	if cb != nil {
		slot.cb = cb
	} else {
		slot.fiberH = fiber.GetThis()
	}
	ctx.events = newInterest
	m.pending.Add(1)
	m.reportPending()
	return outcome, nil
}

// DelEvent disarms ev on fd without triggering its callback. Returns
// false if ev was not armed.
func (m *IOManager) DelEvent(fd int, ev Event) bool {
	ctx := m.ctxFor(fd)
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.events&ev == 0 {
		return false
	}
	remaining := ctx.events &^ ev
	if remaining == None {
		_ = m.poller.unregister(fd)
	} else {
		_ = m.poller.register(fd, remaining, false)
	}
	ctx.events = remaining
	ctx.slots[dirIndex(ev)] = eventSlot{}
	m.pending.Add(-1)
	m.reportPending()
	return true
}

// CancelEvent disarms ev on fd like DelEvent, but first triggers its
// callback/fiber with Outcome.Cancelled set.
func (m *IOManager) CancelEvent(fd int, ev Event) bool {
	ctx := m.ctxFor(fd)
	ctx.mu.Lock()
	if ctx.events&ev == 0 {
		ctx.mu.Unlock()
		return false
	}
	m.fireAndClear(ctx, ev, true)
	remaining := ctx.events
	ctx.mu.Unlock()

	if remaining == None {
		_ = m.poller.unregister(fd)
	} else {
		_ = m.poller.register(fd, remaining, false)
	}
	return true
}

// CancelAll cancels every armed direction on fd.
func (m *IOManager) CancelAll(fd int) bool {
	ctx := m.ctxFor(fd)
	ctx.mu.Lock()
	if ctx.events == None {
		ctx.mu.Unlock()
		return false
	}
	for _, ev := range [2]Event{Read, Write} {
		if ctx.events&ev != 0 {
			m.fireAndClear(ctx, ev, true)
		}
	}
	ctx.mu.Unlock()
	_ = m.poller.unregister(fd)
	return true
}

// fireAndClear schedules the direction's registrant and clears the
// slot. ctx.mu must already be held.
func (m *IOManager) fireAndClear(ctx *FdContext, ev Event, cancelled bool) {
	assert(ctx.events&ev != 0, "fireAndClear: direction not armed")
	idx := dirIndex(ev)
	slot := ctx.slots[idx]
	ctx.events &^= ev
	ctx.slots[idx] = eventSlot{}
	m.pending.Add(-1)
	m.reportPending()

	sc := slot.scheduler
	if sc == nil {
		sc = m.Scheduler
	}
	slot.outcome.Cancelled = cancelled

	switch {
	case slot.fiberH != nil:
		f := slot.fiberH
		_ = sc.Schedule(sched.Task{Thread: -1, Fn: func() {
			if f.State() == fiber.Ready {
				_ = f.Resume()
			}
		}})
	case slot.cb != nil:
		cb := slot.cb
		_ = sc.Schedule(sched.Task{Thread: -1, Fn: cb})
	}
}

// Tickle implements sched.Hooks: wakes the poller if a worker is
// presently idle so it re-checks the task queue / timer heap promptly.
func (m *IOManager) Tickle() {
	if m.Scheduler.IdleCount() > 0 {
		m.poller.wake()
	}
}

// StoppingExtra implements sched.Hooks: IOManager may only stop once
// there are no outstanding timers and no armed fds, in addition to the
// base Scheduler's own drain condition.
func (m *IOManager) StoppingExtra() bool {
	return !m.TimerManager.HasTimer() && m.pending.Load() == 0
}

// Idle implements sched.Hooks: the epoll-driven idle loop, spec.md
// §4.4's six numbered steps.
func (m *IOManager) Idle(s *sched.Scheduler) {
	for {
		if m.Stopping() {
			return
		}
		timeout := m.pollTimeout()
		events, err := m.poller.wait(timeout)
		if err == nil {
			var expired []func()
			m.TimerManager.CollectExpired(&expired)
			for _, cb := range expired {
				_ = s.Schedule(sched.Task{Thread: -1, Fn: cb})
			}
			for _, ev := range events {
				m.handleReady(ev)
			}
		}
		fiber.Yield()
	}
}

func (m *IOManager) pollTimeout() int {
	next := m.TimerManager.NextTimerMS()
	if next > uint64(maxEpollTimeoutMS) {
		return maxEpollTimeoutMS
	}
	return int(next)
}

func (m *IOManager) handleReady(pe pollerEvent) {
	ctx := m.ctxFor(pe.fd)
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.events == None {
		_ = m.poller.unregister(pe.fd)
		return
	}

	mask := pe.mask
	if pe.errHup {
		mask = (Read | Write) & ctx.events
	}
	real := mask & ctx.events
	if real == None {
		return
	}

	left := ctx.events &^ real
	if left == None {
		_ = m.poller.unregister(pe.fd)
	} else {
		_ = m.poller.register(pe.fd, left, false)
	}

	if real&Read != 0 {
		m.fireAndClear(ctx, Read, false)
	}
	if real&Write != 0 {
		m.fireAndClear(ctx, Write, false)
	}
}

// Close releases the poller's OS resources. Stop should be called
// first to drain workers.
func (m *IOManager) Close() error {
	return m.poller.close()
}

// byScheduler lets Current() recover the owning IOManager from whatever
// *sched.Scheduler is current on this goroutine, without IOManager
// needing its own goroutine-local slot — the embedded *sched.Scheduler
// already has one via sched.Current.
var byScheduler sync.Map
