// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

const pageSize = 0x1000

// Emulated implements Memory as a sparse page map, unwritten memory reads as
// zero. It backs host builds and tests.
type Emulated struct {
	pages map[uint64][]byte

	// Flushes counts Flush() invocations
	Flushes int
}

// NewEmulated returns an empty emulated address space.
func NewEmulated() *Emulated {
	return &Emulated{
		pages: make(map[uint64][]byte),
	}
}

func (e *Emulated) access(addr uint64, size int, fn func(page []byte, off int, pos int, n int)) (err error) {
	if err = checkRange(addr, size); err != nil {
		return
	}

	for pos := 0; pos < size; {
		base := (addr + uint64(pos)) &^ (pageSize - 1)
		off := int(addr + uint64(pos) - base)
		n := pageSize - off

		if n > size-pos {
			n = size - pos
		}

		fn(e.pages[base], off, pos, n)

		pos += n
	}

	return
}

func (e *Emulated) Read(addr uint64, buf []byte) error {
	return e.access(addr, len(buf), func(page []byte, off int, pos int, n int) {
		if page == nil {
			for i := pos; i < pos+n; i++ {
				buf[i] = 0
			}
			return
		}

		copy(buf[pos:pos+n], page[off:off+n])
	})
}

func (e *Emulated) Write(addr uint64, buf []byte) error {
	return e.access(addr, len(buf), func(_ []byte, off int, pos int, n int) {
		e.page(addr+uint64(pos)-uint64(off))
		copy(e.pages[addr+uint64(pos)-uint64(off)][off:off+n], buf[pos:pos+n])
	})
}

func (e *Emulated) Zero(addr uint64, size int) error {
	return e.access(addr, size, func(page []byte, off int, pos int, n int) {
		if page == nil {
			return
		}

		if n == pageSize {
			delete(e.pages, addr+uint64(pos))
			return
		}

		for i := off; i < off+n; i++ {
			page[i] = 0
		}
	})
}

func (e *Emulated) Flush() {
	e.Flushes++
}

// Pages returns the number of pages holding data.
func (e *Emulated) Pages() int {
	return len(e.pages)
}

func (e *Emulated) page(base uint64) {
	if _, ok := e.pages[base]; !ok {
		e.pages[base] = make([]byte, pageSize)
	}
}
