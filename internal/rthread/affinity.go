// Platform-neutral CPU affinity for worker threads. Platform-specific
// implementations live in affinity_linux.go / affinity_windows.go /
// affinity_stub.go, guarded by build tags.
package rthread

// Pin binds the calling OS thread to a given logical CPU. Intended to
// be called from inside the fn passed to Spawn, before entering the
// scheduling loop. Returns an error on platforms without a pinning
// primitive instead of silently no-op'ing.
func Pin(cpuID int) error {
	return pinPlatform(cpuID)
}
