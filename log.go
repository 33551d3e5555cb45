// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
)

// initialized at compile time with -ldflags "-X main.<name>=<value>"
var (
	Build    string
	Revision string

	// firmware revision tag of the next boot stage
	Target string
	// non-empty to enable debug logging
	Debug string
)

func init() {
	conf := logger.DefaultConfig()
	conf.Debug = len(Debug) > 0

	if err := logger.Init(conf); err != nil {
		panic(err)
	}
}
