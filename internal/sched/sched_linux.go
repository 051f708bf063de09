//go:build linux

package sched

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 targets the calling thread
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched: set affinity to cpu %d: %w", cpu, err)
	}
	return nil
}

func setNice(nice int) error {
	if nice < -20 || nice > 19 {
		return fmt.Errorf("sched: nice %d out of range", nice)
	}
	// On Linux PRIO_PROCESS with a tid applies to that thread only
	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice); err != nil {
		return fmt.Errorf("sched: set nice %d: %w", nice, err)
	}
	return nil
}

func numCPU() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return runtime.NumCPU()
	}
	return set.Count()
}
