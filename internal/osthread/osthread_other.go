// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !linux

package osthread

func pin(int) error { return ErrUnsupported }

func raisePriority(int) error { return ErrUnsupported }
