//go:build linux && !cgo

package rthread

import "errors"

// pinPlatform has no implementation without cgo available: Linux
// affinity pinning goes through pthread_setaffinity_np, which this
// build cannot call.
func pinPlatform(cpuID int) error {
	return errors.New("rthread: affinity pinning requires cgo on linux")
}
