package fibersched_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corowire/fibersched"
	"github.com/corowire/fibersched/control"
	"github.com/corowire/fibersched/internal/sched"
)

func TestNewSchedulerRunsScheduledFn(t *testing.T) {
	s := fibersched.NewScheduler(1, false, "facade-test")
	require.NoError(t, s.Start())
	defer s.Stop()

	var ran atomic.Bool
	done := make(chan struct{})
	require.NoError(t, s.Schedule(fibersched.Task{Thread: -1, Fn: func() {
		ran.Store(true)
		close(done)
	}}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled task")
	}
	require.True(t, ran.Load())
}

func TestNewFiberRoundTrips(t *testing.T) {
	var ran atomic.Bool
	f := fibersched.NewFiber(func() {
		ran.Store(true)
	}, 0, false)
	require.NoError(t, f.Resume())
	require.True(t, ran.Load())
}

func TestNewIOManagerConstructsAndCloses(t *testing.T) {
	m, err := fibersched.NewIOManager(1, false, "facade-test")
	require.NoError(t, err)
	require.NoError(t, m.Start())
	m.Stop()
	require.NoError(t, m.Close())
}

func TestNewSchedulerAttachesAmbientStack(t *testing.T) {
	s := fibersched.NewScheduler(2, false, "ambient-test")
	require.NotNil(t, s.Logger())
	require.NotNil(t, s.Metrics())
	require.NotNil(t, s.Probes())

	require.NoError(t, s.Start())
	defer s.Stop()

	done := make(chan struct{})
	require.NoError(t, s.Schedule(fibersched.Task{Thread: -1, Fn: func() {
		close(done)
	}}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled task")
	}

	require.Eventually(t, func() bool {
		snap := s.Metrics().GetSnapshot()
		_, hasActive := snap[control.MetricActiveCount]
		_, hasIdle := snap[control.MetricIdleCount]
		_, hasDepth := snap[control.MetricQueueDepth]
		return hasActive && hasIdle && hasDepth
	}, time.Second, time.Millisecond)

	dump := s.Probes().DumpState()
	require.Contains(t, dump, "ambient-test.active_count")
	require.Contains(t, dump, "ambient-test.idle_count")
	require.Contains(t, dump, "ambient-test.queue_depth")
	require.Contains(t, dump, "platform.cpus")
}

func TestNewSchedulerFromConfigUsesWorkerCountAndBridgesReload(t *testing.T) {
	cfg := control.NewConfigStore()
	cfg.SetConfig(map[string]any{control.KeyWorkerCount: 3})

	var reloaded atomic.Bool
	control.RegisterReloadHook(func() { reloaded.Store(true) })

	s := fibersched.NewSchedulerFromConfig(cfg, false, "config-test")
	require.NoError(t, s.Start())
	defer s.Stop()

	// 3 workers (not the default 4): ids 0..2 exist, id 3 does not.
	require.NoError(t, s.Schedule(fibersched.Task{Thread: 2, Fn: func() {}}))
	require.ErrorIs(t, s.Schedule(fibersched.Task{Thread: 3, Fn: func() {}}), sched.ErrUnknownWorker)

	cfg.SetConfig(map[string]any{control.KeyWorkerCount: 5})
	require.Eventually(t, func() bool { return reloaded.Load() }, time.Second, time.Millisecond)
}

func TestNewIOManagerAttachesAmbientStack(t *testing.T) {
	m, err := fibersched.NewIOManager(1, false, "io-ambient-test")
	require.NoError(t, err)
	defer m.Close()

	require.NotNil(t, m.Logger())
	require.NotNil(t, m.Metrics())
	require.NotNil(t, m.Probes())

	dump := m.Probes().DumpState()
	require.Contains(t, dump, "io-ambient-test.pending_events")
	require.Contains(t, dump, "io-ambient-test.active_count")
	require.Contains(t, dump, "timer.set_size")
}
