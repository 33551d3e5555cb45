// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux
// +build linux

package main

import (
	"golang.org/x/sys/unix"
)

// disableCoreDumps keeps signing keys and master key chains out of core
// files.
func disableCoreDumps() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{})
}
