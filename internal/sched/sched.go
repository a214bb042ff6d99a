// Package sched implements the cooperative, non-work-stealing
// multi-threaded Scheduler and, in timer.go, the TimerManager.
//
// The task queue is github.com/eapache/queue rather than a hand-rolled
// ring buffer.
package sched

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/corowire/fibersched/control"
	"github.com/corowire/fibersched/internal/fiber"
	"github.com/corowire/fibersched/internal/glocal"
	"github.com/corowire/fibersched/internal/rthread"
)

const defaultStackSize = 0

// Hooks lets IOManager specialize tickle/idle/stopping without the base
// Scheduler needing to know about epoll or timers.
type Hooks interface {
	Tickle()
	Idle(s *Scheduler)
	StoppingExtra() bool
}

type baseHooks struct{}

func (baseHooks) Tickle() {}

func (baseHooks) Idle(s *Scheduler) {
	for {
		if s.Stopping() {
			fiber.Yield()
			return
		}
		fiber.Yield()
	}
}

func (baseHooks) StoppingExtra() bool { return true }

// Scheduler owns a FIFO task queue drained by a pool of worker threads,
// each driving its own scheduling fiber.
type Scheduler struct {
	name string
	mu   sync.Mutex
	q    *queue.Queue

	hooks Hooks

	stopping    atomic.Bool
	activeCount atomic.Int64
	idleCount   atomic.Int64

	workerCount int
	useCaller   bool
	rootThread  int

	workersMu sync.Mutex
	workers   map[int]*rthread.Thread
	threadIDs map[int]bool

	callerSchedFiber *fiber.Fiber

	log     *control.Logger
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
}

var currentScheduler = glocal.NewMap[*Scheduler]()

// New constructs a Scheduler with the given worker count. If useCaller
// is true, the calling goroutine counts as one of the workers and gets
// a dedicated scheduling fiber installed immediately.
func New(workers int, useCaller bool, name string) *Scheduler {
	assert(workers > 0, "New: workers must be positive")
	s := &Scheduler{
		name:        name,
		q:           queue.New(),
		hooks:       baseHooks{},
		workerCount: workers,
		useCaller:   useCaller,
		rootThread:  -1,
		workers:     make(map[int]*rthread.Thread),
		threadIDs:   make(map[int]bool),
	}
	if useCaller {
		fiber.GetThis()
		s.rootThread = 0
		s.threadIDs[0] = true
		s.callerSchedFiber = fiber.New(func() { s.run(0) }, defaultStackSize, false)
		fiber.SetSchedulerFiber(s.callerSchedFiber)
	}
	return s
}

// SetHooks installs a Hooks implementation, used by IOManager to
// specialize tickle/idle/stopping. Must be called before Start.
func (s *Scheduler) SetHooks(h Hooks) {
	s.hooks = h
}

// SetLogger installs a diagnostic logger. Optional; a nil logger (the
// default) disables logging.
func (s *Scheduler) SetLogger(log *control.Logger) {
	s.log = log
}

// SetMetrics installs a metrics sink, refreshed with queue depth and
// active/idle counts as the scheduler's loops progress. Optional.
func (s *Scheduler) SetMetrics(mr *control.MetricsRegistry) {
	s.metrics = mr
}

// Logger returns the logger installed by SetLogger, or nil.
func (s *Scheduler) Logger() *control.Logger { return s.log }

// Metrics returns the metrics sink installed by SetMetrics, or nil.
func (s *Scheduler) Metrics() *control.MetricsRegistry { return s.metrics }

// Probes returns the debug probe registry installed by SetProbes, or nil.
func (s *Scheduler) Probes() *control.DebugProbes { return s.probes }

// SetProbes installs a probe registry and registers this scheduler's own
// active/idle/queue-depth probes into it.
func (s *Scheduler) SetProbes(dp *control.DebugProbes) {
	s.probes = dp
	if dp == nil {
		return
	}
	dp.RegisterProbe(s.name+".active_count", func() any { return s.ActiveCount() })
	dp.RegisterProbe(s.name+".idle_count", func() any { return s.IdleCount() })
	dp.RegisterProbe(s.name+".queue_depth", func() any { return s.QueueDepth() })
}

func (s *Scheduler) reportMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.Set(control.MetricActiveCount, s.activeCount.Load())
	s.metrics.Set(control.MetricIdleCount, s.idleCount.Load())
	s.metrics.Set(control.MetricQueueDepth, s.QueueDepth())
}

// Current returns the Scheduler whose worker loop is running on the
// calling goroutine, or nil.
func Current() *Scheduler {
	s, _ := currentScheduler.Get()
	return s
}

// Name returns the scheduler's name, as given to New.
func (s *Scheduler) Name() string { return s.name }

// IdleCount reports how many workers are presently blocked in idle().
func (s *Scheduler) IdleCount() int64 { return s.idleCount.Load() }

// ActiveCount reports how many workers are presently running a task.
func (s *Scheduler) ActiveCount() int64 { return s.activeCount.Load() }

// QueueDepth reports the number of tasks presently queued.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length()
}

// Schedule appends t to the FIFO queue, tickling the idle workers if
// the queue transitioned empty→non-empty.
func (s *Scheduler) Schedule(t Task) error {
	if !t.Valid() {
		return ErrInvalidTask
	}
	if s.stopping.Load() {
		return ErrSchedulerStopped
	}
	if t.Thread >= 0 {
		s.workersMu.Lock()
		known := s.threadIDs[t.Thread]
		s.workersMu.Unlock()
		if !known {
			return ErrUnknownWorker
		}
	}
	s.mu.Lock()
	wasEmpty := s.q.Length() == 0
	s.q.Add(t)
	s.mu.Unlock()
	if wasEmpty {
		s.hooks.Tickle()
	}
	return nil
}

// dequeueEligible scans the queue front-to-back for the first task
// whose Thread is -1 or matches workerID, removing it while preserving
// the relative order of everything else. Reports whether any other
// eligible task remains, so the caller can re-tickle.
func (s *Scheduler) dequeueEligible(workerID int) (Task, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.q.Length()
	var found Task
	ok := false
	skipped := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		t := s.q.Remove().(Task)
		if !ok && (t.Thread == -1 || t.Thread == workerID) {
			found = t
			ok = true
			continue
		}
		skipped = append(skipped, t)
	}
	for _, t := range skipped {
		s.q.Add(t)
	}
	more := false
	for i := 0; i < s.q.Length(); i++ {
		t := s.q.Get(i).(Task)
		if t.Thread == -1 || t.Thread == workerID {
			more = true
			break
		}
	}
	return found, more, ok
}

// Start spawns the worker threads (minus one if useCaller) through
// internal/rthread and begins their run loops.
func (s *Scheduler) Start() error {
	if s.stopping.Load() {
		return ErrSchedulerStopped
	}
	n := s.workerCount
	if s.useCaller {
		n--
	}
	base := 0
	if s.useCaller {
		base = 1
	}
	for i := 0; i < n; i++ {
		workerID := base + i
		s.workersMu.Lock()
		s.threadIDs[workerID] = true
		s.workersMu.Unlock()
		th := rthread.Spawn(func(_ *rthread.Thread) {
			s.run(workerID)
		}, s.name)
		s.workersMu.Lock()
		s.workers[workerID] = th
		s.workersMu.Unlock()
	}
	return nil
}

// run is the per-thread scheduling loop: spec.md §4.2 steps 1-6.
func (s *Scheduler) run(workerID int) {
	currentScheduler.Set(s)
	fiber.GetThis()
	if s.log != nil {
		control.LogWorkerStart(s.log, s.name, workerID)
	}

	idleFiber := fiber.New(func() { s.hooks.Idle(s) }, defaultStackSize, false)

	for {
		task, more, ok := s.dequeueEligible(workerID)
		if ok {
			s.activeCount.Add(1)
			if more {
				s.hooks.Tickle()
			}
			s.reportMetrics()
			s.runTask(task, workerID)
			s.activeCount.Add(-1)
			s.reportMetrics()
			continue
		}
		s.idleCount.Add(1)
		s.reportMetrics()
		_ = idleFiber.Resume()
		s.idleCount.Add(-1)
		if idleFiber.State() == fiber.Term {
			if s.log != nil {
				control.LogWorkerStop(s.log, s.name, workerID)
			}
			return
		}
	}
}

func (s *Scheduler) runTask(t Task, workerID int) {
	if t.Fiber != nil {
		if t.Fiber.State() != fiber.Ready {
			return
		}
		_ = t.Fiber.Resume()
		if r := t.Fiber.Recovered(); r != nil && s.log != nil {
			control.LogRecoveredPanic(s.log, s.name, workerID, r)
		}
		if t.Fiber.State() == fiber.Ready {
			_ = s.Schedule(Task{Fiber: t.Fiber, Thread: t.Thread})
		}
		return
	}
	fn := t.Fn
	tf := fiber.New(fn, defaultStackSize, false)
	_ = tf.Resume()
	if r := tf.Recovered(); r != nil && s.log != nil {
		control.LogRecoveredPanic(s.log, s.name, workerID, r)
	}
	if tf.State() == fiber.Ready {
		_ = s.Schedule(Task{Fiber: tf, Thread: t.Thread})
	}
}

// RunCaller drives the scheduling fiber installed on the calling
// goroutine by New (only meaningful when useCaller was true). It blocks
// until Stop has been called and the scheduling fiber's own run loop
// has drained, exactly like a spawned worker's run loop — the
// embedding caller is simply supplying the goroutine itself instead of
// having rthread spawn one. A Stop call that races ahead of RunCaller
// still converges: the fiber is resumed exactly once either way.
func (s *Scheduler) RunCaller() {
	if !s.useCaller {
		return
	}
	_ = s.callerSchedFiber.Resume()
}

// Stop signals every worker to exit its idle loop once drained, then
// joins all of them.
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
	s.workersMu.Lock()
	workers := make([]*rthread.Thread, 0, len(s.workers))
	for _, th := range s.workers {
		workers = append(workers, th)
	}
	s.workersMu.Unlock()
	for range workers {
		s.hooks.Tickle()
	}
	for _, th := range workers {
		th.Join()
	}
	if s.useCaller {
		_ = s.callerSchedFiber.Resume()
	}
}

// Stopping reports whether the scheduler may now exit: stopping flag
// set, queue empty, no task actively running, and (for IOManager) no
// outstanding timers or armed fds either.
func (s *Scheduler) Stopping() bool {
	s.mu.Lock()
	empty := s.q.Length() == 0
	s.mu.Unlock()
	base := s.stopping.Load() && empty && s.activeCount.Load() == 0
	return base && s.hooks.StoppingExtra()
}
