// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	_ "unsafe"

	"github.com/f-secure-foundry/tamago/dma"

	"github.com/f-secure-foundry/armory-monitor/internal/mem"
)

// Override usbarmory pkg ramSize and `mem` allocation, the last 16MB of the
// 1st half of external RAM hold DCP descriptors and buffers while its 2nd
// half is reserved to the next boot stage.

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = 0x0f000000 // 240MB

// DCP DMA region, below dramBase so that no section or staging window can
// reach it
const (
	dmaStart = 0x8f000000
	dmaSize  = 0x01000000 // 16MB
)

// 2nd half of external RAM (256MB), section offsets are relative to it
const dramBase = 0x90000000

// package2 staging buffer, followed by its relocation carveouts
const stagingBase = 0x98000000

func init() {
	dma.Init(dmaStart, dmaSize)
}

// physical returns the SoC memory with the DMA region excluded.
func physical() mem.Memory {
	return mem.Exclude(mem.NewPhysical(), mem.Region{
		Start: dmaStart,
		Size:  dmaSize,
	})
}
