// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package mem

import (
	"math"
	"unsafe"

	"github.com/f-secure-foundry/tamago/soc/imx6"
)

// Physical implements Memory over the identity mapped physical address space
// of the SoC.
type Physical struct{}

// NewPhysical returns the physical memory of the SoC. The DMA region used by
// the security engine must be excluded by the caller (see Exclude).
func NewPhysical() *Physical {
	return &Physical{}
}

func region(addr uint64, size int) ([]byte, error) {
	if err := checkRange(addr, size); err != nil {
		return nil, err
	}

	if addr+uint64(size) > math.MaxUint32+1 {
		return nil, ErrRange
	}

	if size == 0 {
		return nil, nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size), nil
}

func (p *Physical) Read(addr uint64, buf []byte) (err error) {
	r, err := region(addr, len(buf))

	if err != nil {
		return
	}

	copy(buf, r)

	return
}

func (p *Physical) Write(addr uint64, buf []byte) (err error) {
	r, err := region(addr, len(buf))

	if err != nil {
		return
	}

	copy(r, buf)

	return
}

func (p *Physical) Zero(addr uint64, size int) (err error) {
	r, err := region(addr, size)

	if err != nil {
		return
	}

	for i := range r {
		r[i] = 0
	}

	return
}

func (p *Physical) Flush() {
	imx6.ARM.CacheFlushData()
}
