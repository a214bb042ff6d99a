package sched

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddTimerFiresAfterDelay(t *testing.T) {
	m := NewTimerManager()
	var fired atomic.Bool
	m.AddTimer(20, func() { fired.Store(true) }, false)

	require.False(t, fired.Load())
	time.Sleep(40 * time.Millisecond)

	var out []func()
	m.CollectExpired(&out)
	require.Len(t, out, 1)
	out[0]()
	require.True(t, fired.Load())
	require.False(t, m.HasTimer())
}

func TestRecurringTimerReinserts(t *testing.T) {
	m := NewTimerManager()
	var count atomic.Int32
	m.AddTimer(5, func() { count.Add(1) }, true)

	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		var out []func()
		m.CollectExpired(&out)
		for _, cb := range out {
			cb()
		}
	}
	require.True(t, count.Load() >= 2)
	require.True(t, m.HasTimer())
}

func TestCancelPreventsFurtherFires(t *testing.T) {
	m := NewTimerManager()
	var count atomic.Int32
	timer := m.AddTimer(5, func() { count.Add(1) }, true)

	time.Sleep(10 * time.Millisecond)
	var out []func()
	m.CollectExpired(&out)
	require.Len(t, out, 1)

	require.True(t, timer.Cancel())
	for _, cb := range out {
		cb()
	}
	require.Equal(t, int32(1), count.Load())

	time.Sleep(10 * time.Millisecond)
	out = nil
	m.CollectExpired(&out)
	require.Empty(t, out)
	require.False(t, m.HasTimer())
	require.False(t, timer.Cancel())
}

func TestNextTimerMSEmptyIsMaxUint64(t *testing.T) {
	m := NewTimerManager()
	require.Equal(t, uint64(math.MaxUint64), m.NextTimerMS())
}

func TestOnInsertedAtFrontFiresOnceUntilCleared(t *testing.T) {
	m := NewTimerManager()
	var calls atomic.Int32
	m.OnInsertedAtFront(func() { calls.Add(1) })

	m.AddTimer(1000, func() {}, false)
	require.Equal(t, int32(1), calls.Load())

	// tickled is already true: a second front-insertion is coalesced,
	// not re-woken, until something consumes NextTimerMS.
	m.AddTimer(5, func() {}, false)
	require.Equal(t, int32(1), calls.Load())

	m.NextTimerMS() // clears tickled
	m.AddTimer(2000, func() {}, false)
	require.Equal(t, int32(1), calls.Load(), "2000ms timer is not the new front")

	m.AddTimer(1, func() {}, false) // now the genuine new front
	require.Equal(t, int32(2), calls.Load())
}

func TestConditionTimerSkipsWhenWitnessGone(t *testing.T) {
	m := NewTimerManager()
	alive := false
	var ran atomic.Bool
	m.AddConditionTimer(5, func() { ran.Store(true) }, func() bool { return alive }, false)

	time.Sleep(10 * time.Millisecond)
	var out []func()
	m.CollectExpired(&out)
	require.Len(t, out, 1)
	out[0]()
	require.False(t, ran.Load())
}

func TestResetFromNowReschedules(t *testing.T) {
	m := NewTimerManager()
	timer := m.AddTimer(1000, func() {}, false)
	require.True(t, timer.Reset(5, true))

	time.Sleep(10 * time.Millisecond)
	var out []func()
	m.CollectExpired(&out)
	require.Len(t, out, 1)
}

func TestRefreshOnlyExtendsForward(t *testing.T) {
	m := NewTimerManager()
	timer := m.AddTimer(10, func() {}, false)
	before := timer.next
	require.True(t, timer.Refresh())
	require.False(t, timer.next.Before(before))
	require.True(t, m.HasTimer())
}
