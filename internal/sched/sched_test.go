package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corowire/fibersched/internal/fiber"
)

func TestScheduleRunsFn(t *testing.T) {
	s := New(1, false, "test")
	done := make(chan struct{})
	require.NoError(t, s.Start())

	require.NoError(t, s.Schedule(Task{Thread: -1, Fn: func() { close(done) }}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	s.Stop()
}

func TestScheduleRejectsInvalidTask(t *testing.T) {
	s := New(1, false, "test")
	require.ErrorIs(t, s.Schedule(Task{Thread: -1}), ErrInvalidTask)
}

func TestScheduleRejectsUnknownWorker(t *testing.T) {
	s := New(1, false, "test")
	require.NoError(t, s.Start())
	defer s.Stop()
	err := s.Schedule(Task{Thread: 99, Fn: func() {}})
	require.ErrorIs(t, err, ErrUnknownWorker)
}

func TestScheduleAfterStopRejected(t *testing.T) {
	s := New(1, false, "test")
	require.NoError(t, s.Start())
	s.Stop()
	require.ErrorIs(t, s.Schedule(Task{Thread: -1, Fn: func() {}}), ErrSchedulerStopped)
}

func TestFiberTaskYieldsAndResumes(t *testing.T) {
	s := New(1, false, "test")
	require.NoError(t, s.Start())

	var stage atomic.Int32
	f := fiber.New(func() {
		stage.Store(1)
		fiber.Yield()
		stage.Store(2)
	}, 0, false)

	require.NoError(t, s.Schedule(Task{Fiber: f, Thread: -1}))

	require.Eventually(t, func() bool {
		return stage.Load() == 2
	}, time.Second, time.Millisecond)

	s.Stop()
}

func TestManyTasksAllComplete(t *testing.T) {
	s := New(4, false, "test")
	require.NoError(t, s.Start())

	const n = 100
	var count atomic.Int32
	for i := 0; i < n; i++ {
		require.NoError(t, s.Schedule(Task{Thread: -1, Fn: func() { count.Add(1) }}))
	}

	require.Eventually(t, func() bool {
		return count.Load() == int32(n)
	}, 2*time.Second, time.Millisecond)

	s.Stop()
}

func TestUseCallerParticipates(t *testing.T) {
	s := New(1, true, "test")
	require.NoError(t, s.Start())

	done := make(chan struct{})
	require.NoError(t, s.Schedule(Task{Thread: -1, Fn: func() { close(done) }}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Stop()
	}()

	s.RunCaller()
	select {
	case <-done:
	default:
		t.Fatal("task never ran")
	}
}
