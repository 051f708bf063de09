// Package sched pins the calling goroutine to an OS thread and adjusts that
// thread's CPU affinity and scheduling priority. Trigger sources use it to
// approximate an interrupt service thread.
package sched

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned on platforms without thread affinity or
// per-thread priority control
var ErrUnsupported = errors.New("sched: not supported on this platform")

// Options selects the thread attributes applied by Pin
type Options struct {
	// CPU pins the thread to one logical CPU; -1 leaves affinity alone
	CPU int

	// Nice sets the thread's nice value (-20..19); 0 leaves it alone.
	// Negative values normally require CAP_SYS_NICE.
	Nice int
}

// Pin locks the calling goroutine to its OS thread and applies opts.
// The returned release function unlocks the thread and must be called from
// the same goroutine. When applying opts fails the thread stays locked and
// the error is returned alongside release.
func Pin(opts Options) (release func(), err error) {
	runtime.LockOSThread()
	release = runtime.UnlockOSThread

	if opts.CPU >= 0 {
		if err := setAffinity(opts.CPU); err != nil {
			return release, err
		}
	}
	if opts.Nice != 0 {
		if err := setNice(opts.Nice); err != nil {
			return release, err
		}
	}
	return release, nil
}

// NumCPU returns the number of CPUs the process may run on
func NumCPU() int {
	return numCPU()
}
