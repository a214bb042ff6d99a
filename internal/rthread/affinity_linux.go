//go:build linux && cgo

package rthread

/*
#define _GNU_SOURCE
#include <sched.h>
#include <pthread.h>
#include <errno.h>

static int fibersched_setaffinity(int cpu) {
	cpu_set_t set;
	CPU_ZERO(&set);
	CPU_SET(cpu, &set);
	return pthread_setaffinity_np(pthread_self(), sizeof(set), &set);
}
*/
import "C"
import "fmt"

func pinPlatform(cpuID int) error {
	if ret := C.fibersched_setaffinity(C.int(cpuID)); ret != 0 {
		return fmt.Errorf("rthread: pthread_setaffinity_np failed, code %d", ret)
	}
	return nil
}
