//go:build !linux

package ioloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddEventUnsupportedOnFallbackBackend(t *testing.T) {
	m, err := New(1, false, "test")
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	_, err = m.AddEvent(0, Read, func() {})
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestTimersStillFireOnFallbackBackend(t *testing.T) {
	m, err := New(1, false, "test")
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	done := make(chan struct{})
	m.AddTimer(20, func() { close(done) }, false)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}
