//go:build !linux

package sched

import "runtime"

func setAffinity(cpu int) error {
	return ErrUnsupported
}

func setNice(nice int) error {
	return ErrUnsupported
}

func numCPU() int {
	return runtime.NumCPU()
}
