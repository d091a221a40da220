// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package osthread adjusts scheduling of the calling OS thread.
//
// Callers must hold the thread with runtime.LockOSThread for the settings to
// stay with their goroutine.
package osthread

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned on platforms without thread affinity or
// priority control.
var ErrUnsupported = errors.New("osthread: not supported on this platform")

// LastCPU returns the index of the highest-numbered logical CPU.
func LastCPU() int {
	return runtime.NumCPU() - 1
}

// Pin binds the calling thread to cpu. A negative cpu selects LastCPU.
func Pin(cpu int) error {
	if cpu < 0 {
		cpu = LastCPU()
	}
	return pin(cpu)
}

// RaisePriority lowers the nice value of the calling thread by delta.
// Raising priority usually needs elevated privileges; the error reports it.
func RaisePriority(delta int) error {
	if delta <= 0 {
		return nil
	}
	return raisePriority(delta)
}
