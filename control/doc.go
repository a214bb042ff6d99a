// Package control is the ambient operations layer shared by the
// scheduler, timer, and IO subsystems: structured diagnostic logging,
// live-reloadable configuration, and debug/metrics probes.
//
// Runtime knobs cover default fiber stack size, epoll batch size, and
// worker count; health probes cover pending-event/active/idle counts,
// timer-set size, and the scheduler's task-queue depth.
package control
