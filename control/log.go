// control/log.go
//
// Structured diagnostic logging for the scheduler, timer, and IO
// subsystems, built on logiface with the stumpy JSON backend.

package control

import (
	"fmt"
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger shared by fibersched's subsystems.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger builds a stumpy-backed logger writing to w. A nil w
// defaults to stderr.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	)
}

// LogWorkerStart records a worker thread coming online.
func LogWorkerStart(log *Logger, schedulerName string, workerID int) {
	log.Info().
		Str(`scheduler`, schedulerName).
		Int(`worker`, workerID).
		Log(`worker started`)
}

// LogWorkerStop records a worker thread shutting down.
func LogWorkerStop(log *Logger, schedulerName string, workerID int) {
	log.Info().
		Str(`scheduler`, schedulerName).
		Int(`worker`, workerID).
		Log(`worker stopped`)
}

// LogFdRegisterFailure records a poller registration failure for an fd.
func LogFdRegisterFailure(log *Logger, fd int, err error) {
	log.Err().
		Int(`fd`, fd).
		Err(err).
		Log(`fd registration failed`)
}

// LogClockRollover records a detected backwards jump in the monotonic
// clock source driving the timer set.
func LogClockRollover(log *Logger, prevMS, nowMS uint64) {
	log.Warning().
		Int64(`prev_ms`, int64(prevMS)).
		Int64(`now_ms`, int64(nowMS)).
		Log(`clock rollover detected, timers re-anchored`)
}

// LogRecoveredPanic records a task or timer callback panic that was
// recovered so a single runaway task cannot take down a worker.
func LogRecoveredPanic(log *Logger, schedulerName string, workerID int, recovered any) {
	log.Crit().
		Str(`scheduler`, schedulerName).
		Int(`worker`, workerID).
		Str(`recovered`, fmtRecovered(recovered)).
		Log(`recovered panic in scheduled callback`)
}

func fmtRecovered(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}
