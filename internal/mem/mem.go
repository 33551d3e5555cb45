// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mem provides access to physical memory for staging, relocation and
// materialization of boot images.
package mem

import (
	"errors"
	"io"
	"math"
)

// copy buffer size for region to region transfers
const chunkSize = 0x10000

// Memory represents the physical address space reachable by the monitor.
type Memory interface {
	// Read fills buf with the contents starting at addr.
	Read(addr uint64, buf []byte) error
	// Write stores buf starting at addr.
	Write(addr uint64, buf []byte) error
	// Zero clears size bytes starting at addr.
	Zero(addr uint64, size int) error
	// Flush makes prior writes visible to the next boot stage.
	Flush()
}

// ErrRange is returned for accesses wrapping around the address space.
var ErrRange = errors.New("memory access out of range")

func checkRange(addr uint64, size int) error {
	if size < 0 || uint64(size) > math.MaxUint64-addr {
		return ErrRange
	}

	return nil
}

// ErrReserved is returned for accesses to a reserved region.
var ErrReserved = errors.New("memory access within reserved region")

// Region represents a physical address range.
type Region struct {
	Start uint64
	Size  uint64
}

// Overlaps reports whether size bytes at addr intersect the region.
func (r Region) Overlaps(addr uint64, size int) bool {
	if size <= 0 || r.Size == 0 {
		return false
	}

	return addr < r.Start+r.Size && r.Start < addr+uint64(size)
}

type excluded struct {
	Memory
	reserved Region
}

// Exclude returns m with all accesses intersecting reserved refused with
// ErrReserved, reserved memory is owned by the DMA allocator of the security
// engine.
func Exclude(m Memory, reserved Region) Memory {
	return &excluded{Memory: m, reserved: reserved}
}

func (e *excluded) check(addr uint64, size int) error {
	if err := checkRange(addr, size); err != nil {
		return err
	}

	if e.reserved.Overlaps(addr, size) {
		return ErrReserved
	}

	return nil
}

func (e *excluded) Read(addr uint64, buf []byte) error {
	if err := e.check(addr, len(buf)); err != nil {
		return err
	}

	return e.Memory.Read(addr, buf)
}

func (e *excluded) Write(addr uint64, buf []byte) error {
	if err := e.check(addr, len(buf)); err != nil {
		return err
	}

	return e.Memory.Write(addr, buf)
}

func (e *excluded) Zero(addr uint64, size int) error {
	if err := e.check(addr, size); err != nil {
		return err
	}

	return e.Memory.Zero(addr, size)
}

// Copy transfers size bytes from src to dst within the same address space,
// overlapping ranges are not supported.
func Copy(m Memory, dst uint64, src uint64, size int) (err error) {
	if err = checkRange(src, size); err != nil {
		return
	}

	if err = checkRange(dst, size); err != nil {
		return
	}

	buf := make([]byte, chunkSize)

	for off := 0; off < size; off += chunkSize {
		n := size - off

		if n > chunkSize {
			n = chunkSize
		}

		if err = m.Read(src+uint64(off), buf[:n]); err != nil {
			return
		}

		if err = m.Write(dst+uint64(off), buf[:n]); err != nil {
			return
		}
	}

	return
}

type readerAt struct {
	m    Memory
	base uint64
}

func (r *readerAt) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, ErrRange
	}

	if err = r.m.Read(r.base+uint64(off), p); err != nil {
		return
	}

	return len(p), nil
}

// NewReader returns a reader over size bytes of memory starting at addr.
func NewReader(m Memory, addr uint64, size int64) *io.SectionReader {
	return io.NewSectionReader(&readerAt{m: m, base: addr}, 0, size)
}
