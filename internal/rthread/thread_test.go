package rthread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnPublishesIdentityBeforeRunning(t *testing.T) {
	var seenName string
	var seenID int64
	th := Spawn(func(t *Thread) {
		seenName = t.Name()
		seenID = t.ID()
	}, "worker-0")
	th.Join()

	require.Equal(t, "worker-0", seenName)
	require.Equal(t, th.ID(), seenID)
}

func TestCurrentInsideSpawnedGoroutine(t *testing.T) {
	result := make(chan *Thread, 1)
	th := Spawn(func(t *Thread) {
		result <- Current()
	}, "worker-1")
	th.Join()

	select {
	case got := <-result:
		require.Same(t, th, got)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestJoinBlocksUntilDone(t *testing.T) {
	started := make(chan struct{})
	th := Spawn(func(t *Thread) {
		close(started)
		time.Sleep(10 * time.Millisecond)
	}, "worker-2")
	<-started
	th.Join()
}

func TestDistinctThreadsGetDistinctIDs(t *testing.T) {
	a := Spawn(func(t *Thread) {}, "a")
	b := Spawn(func(t *Thread) {}, "b")
	a.Join()
	b.Join()
	require.NotEqual(t, a.ID(), b.ID())
}
