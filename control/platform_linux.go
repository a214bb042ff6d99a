//go:build linux
// +build linux

// control/platform_linux.go
//
// Linux-specific debug probes: CPU topology relevant to worker-count
// and thread-affinity sizing decisions.

package control

import (
	"runtime"
)

// RegisterPlatformProbes installs Linux-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
