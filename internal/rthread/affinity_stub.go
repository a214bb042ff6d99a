//go:build !linux && !windows

package rthread

import "errors"

func pinPlatform(cpuID int) error {
	return errors.New("rthread: affinity pinning not supported on this platform")
}
