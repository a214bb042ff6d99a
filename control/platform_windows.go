//go:build windows
// +build windows

// control/platform_windows.go
//
// Windows-specific debug probes.

package control

import (
	"runtime"
)

// RegisterPlatformProbes installs Windows-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
