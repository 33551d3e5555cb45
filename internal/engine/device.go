// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package engine

import (
	"encoding/binary"
	"fmt"
)

// StaticDevice implements Device with fixed identity values, for host
// emulation and tests.
type StaticDevice struct {
	ID       uint64
	Retail   bool
	Firmware string
}

func (d *StaticDevice) DeviceID() uint64 {
	return d.ID & DeviceIDMask
}

func (d *StaticDevice) IsRetail() bool {
	return d.Retail
}

func (d *StaticDevice) Revision() string {
	return d.Firmware
}

// Fuses implements Device with identity values read once from fuses.
type Fuses struct {
	// Firmware is the active firmware revision tag
	Firmware string

	id     uint64
	retail bool
}

// newFuses builds a fused identity, readUID returns the little endian 64-bit
// SoC unique ID.
func newFuses(firmware string, readUID func() ([]byte, error), retail bool) (f *Fuses, err error) {
	uid, err := readUID()

	if err != nil {
		return nil, fmt.Errorf("could not read unique ID fuses, %v", err)
	}

	if len(uid) > 8 {
		return nil, fmt.Errorf("invalid unique ID size (%d)", len(uid))
	}

	buf := make([]byte, 8)
	copy(buf, uid)

	return &Fuses{
		Firmware: firmware,
		id:       binary.LittleEndian.Uint64(buf) & DeviceIDMask,
		retail:   retail,
	}, nil
}

func (f *Fuses) DeviceID() uint64 {
	return f.id
}

func (f *Fuses) IsRetail() bool {
	return f.retail
}

func (f *Fuses) Revision() string {
	return f.Firmware
}
