package fiber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResumeYieldRoundTrip(t *testing.T) {
	var ran int
	f := New(func() {
		ran++
		Current().Yield()
		ran++
	}, 0, false)

	require.Equal(t, Ready, f.State())
	require.NoError(t, f.Resume())
	require.Equal(t, Ready, f.State())
	require.Equal(t, 1, ran)

	require.NoError(t, f.Resume())
	require.Equal(t, Term, f.State())
	require.Equal(t, 2, ran)

	require.Error(t, f.Resume())
}

func TestResumeRejectsNonReady(t *testing.T) {
	f := New(func() {}, 0, false)
	require.NoError(t, f.Resume())
	require.Equal(t, Term, f.State())
	require.ErrorIs(t, f.Resume(), ErrNotReady)
}

func TestResetReplaysClosure(t *testing.T) {
	calls := 0
	f := New(func() { calls++ }, 0, false)
	require.NoError(t, f.Resume())
	require.Equal(t, Term, f.State())

	require.Error(t, f.Reset(nil))

	require.NoError(t, f.Reset(func() { calls++ }))
	require.Equal(t, Ready, f.State())
	require.NoError(t, f.Resume())
	require.Equal(t, Term, f.State())
	require.Equal(t, 2, calls)
}

func TestGetThisConstructsThreadRootOnce(t *testing.T) {
	done := make(chan struct{})
	var first, second *Fiber
	go func() {
		defer close(done)
		first = GetThis()
		second = GetThis()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	require.NotNil(t, first)
	require.Same(t, first, second)
}

func TestCurrentReflectsRunningFiber(t *testing.T) {
	seen := make(chan *Fiber, 1)
	var f *Fiber
	f = New(func() {
		seen <- Current()
	}, 0, false)
	require.NoError(t, f.Resume())
	got := <-seen
	require.Same(t, f, got)
}

func TestMultipleFibersIndependentGoroutines(t *testing.T) {
	order := make([]int, 0, 4)
	a := New(func() {
		order = append(order, 1)
		Current().Yield()
		order = append(order, 3)
	}, 0, false)
	b := New(func() {
		order = append(order, 2)
		Current().Yield()
		order = append(order, 4)
	}, 0, false)

	require.NoError(t, a.Resume())
	require.NoError(t, b.Resume())
	require.NoError(t, a.Resume())
	require.NoError(t, b.Resume())

	require.Equal(t, []int{1, 2, 3, 4}, order)
	require.Equal(t, Term, a.State())
	require.Equal(t, Term, b.State())
}
