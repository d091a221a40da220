// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build linux

package osthread

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func pin(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 targets the calling thread.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("osthread: pin to cpu %d: %w", cpu, err)
	}
	return nil
}

func raisePriority(delta int) error {
	tid := unix.Gettid()
	cur, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
	if err != nil {
		return fmt.Errorf("osthread: get priority: %w", err)
	}
	// The raw syscall returns 20-nice.
	nice := 20 - cur
	target := max(nice-delta, -20)
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, target); err != nil {
		return fmt.Errorf("osthread: set nice %d: %w", target, err)
	}
	return nil
}
