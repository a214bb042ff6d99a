// Package fibersched re-exports the fiber/scheduler/timer/IO
// primitives under a single import path, presenting the internal
// packages to consumers as one stable surface.
package fibersched

import (
	"github.com/corowire/fibersched/control"
	"github.com/corowire/fibersched/internal/fiber"
	"github.com/corowire/fibersched/internal/ioloop"
	"github.com/corowire/fibersched/internal/sched"
)

type (
	// Fiber is a stackful-coroutine equivalent: resume/yield rendezvous
	// between the calling goroutine and the fiber's own goroutine.
	Fiber = fiber.Fiber
	// Scheduler owns a FIFO task queue drained by a pool of worker
	// threads, each driving its own scheduling fiber.
	Scheduler = sched.Scheduler
	// TimerManager is an ordered set of one-shot, recurring, and
	// condition timers.
	TimerManager = sched.TimerManager
	// Timer is a single entry in a TimerManager.
	Timer = sched.Timer
	// IOManager is a Scheduler and a TimerManager simultaneously,
	// specialized with an epoll-style readiness idle loop.
	IOManager = ioloop.IOManager
	// Task is a unit of work handed to Scheduler.Schedule: either a
	// Fiber to resume or a plain func to run on a fresh transient one.
	Task = sched.Task
)

// NewFiber constructs a Fiber that runs fn on its first Resume.
// stackSize is accepted for source-compatibility with the stackful
// original but is otherwise unused: every Fiber already runs on its
// own goroutine with its own growable Go stack.
func NewFiber(fn func(), stackSize int, runInScheduler bool) *Fiber {
	return fiber.New(fn, stackSize, runInScheduler)
}

// NewScheduler constructs a Scheduler with the given worker count. If
// useCaller is true, the calling goroutine counts as one of the
// workers; the caller must then call Scheduler.RunCaller after Start.
//
// A default logger, metrics registry, and debug probe set are attached
// automatically; retrieve them with Scheduler.Logger, Scheduler.Metrics,
// and Scheduler.Probes.
func NewScheduler(workers int, useCaller bool, name string) *Scheduler {
	s := sched.New(workers, useCaller, name)
	attachAmbient(s)
	return s
}

// NewSchedulerFromConfig is like NewScheduler, but reads the worker
// count from cfg's control.KeyWorkerCount knob rather than taking one
// directly, and bridges cfg's reload notifications into the package's
// global hot-reload hooks (see control.RegisterReloadHook).
func NewSchedulerFromConfig(cfg *control.ConfigStore, useCaller bool, name string) *Scheduler {
	workers := cfg.Int(control.KeyWorkerCount, control.DefaultWorkerCount)
	s := NewScheduler(workers, useCaller, name)
	cfg.OnReload(control.TriggerHotReloadSync)
	return s
}

// NewIOManager constructs an IOManager with the given worker topology.
//
// A default logger, metrics registry, and debug probe set are attached
// automatically; retrieve them with IOManager.Logger, IOManager.Metrics,
// and IOManager.Probes.
func NewIOManager(workers int, useCaller bool, name string) (*IOManager, error) {
	m, err := ioloop.New(workers, useCaller, name)
	if err != nil {
		return nil, err
	}
	attachAmbient(m)
	return m, nil
}

// NewIOManagerFromConfig is like NewIOManager, but reads the worker
// count from cfg's control.KeyWorkerCount knob rather than taking one
// directly, and bridges cfg's reload notifications into the package's
// global hot-reload hooks.
func NewIOManagerFromConfig(cfg *control.ConfigStore, useCaller bool, name string) (*IOManager, error) {
	workers := cfg.Int(control.KeyWorkerCount, control.DefaultWorkerCount)
	m, err := NewIOManager(workers, useCaller, name)
	if err != nil {
		return nil, err
	}
	cfg.OnReload(control.TriggerHotReloadSync)
	return m, nil
}

// ambientTarget is satisfied by both *Scheduler and *IOManager: each
// installs its logger/metrics/probes directly and, for IOManager,
// propagates them to its embedded Scheduler and TimerManager too.
type ambientTarget interface {
	SetLogger(*control.Logger)
	SetMetrics(*control.MetricsRegistry)
	SetProbes(*control.DebugProbes)
}

func attachAmbient(t ambientTarget) {
	t.SetLogger(control.NewLogger(nil))
	t.SetMetrics(control.NewMetricsRegistry())
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	t.SetProbes(probes)
}
