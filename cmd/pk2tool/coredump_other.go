// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package main

func disableCoreDumps() error {
	return nil
}
