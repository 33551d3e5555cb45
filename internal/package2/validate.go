// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package package2

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
)

// SectionHasher returns the SHA-256 digest of a section as stored, offset is
// relative to the end of the header.
type SectionHasher func(index int, offset uint32, size uint32) ([HashSize]byte, error)

// Policy represents the local limits package2 metadata is validated against.
type Policy struct {
	// highest header version understood
	HeaderVersionMax int
	// package2 format version supported by this build
	Version uint8
	// section hash verification, disabled only on debug builds
	CheckHashes bool
}

// DefaultPolicy returns the policy of this build.
func DefaultPolicy() Policy {
	return Policy{
		HeaderVersionMax: firmware.MasterKeyRevisionMax,
		Version:          firmware.Package2Version,
		CheckHashes:      checkHashes,
	}
}

// ErrInvalidMetadata is returned for metadata failing validation.
var ErrInvalidMetadata = errors.New("invalid package2 metadata")

func invalid(format string, a ...interface{}) error {
	return fmt.Errorf("%w, %s", ErrInvalidMetadata, fmt.Sprintf(format, a...))
}

// overlaps reports whether [a, b) and [c, d) intersect, empty ranges never
// do.
func overlaps(a uint64, b uint64, c uint64, d uint64) bool {
	if a == b || c == d {
		return false
	}

	return a < d && c < b
}

// Validate verifies decoded metadata against the policy, the hasher is
// invoked for each active section when hash checking is enabled.
func (p Policy) Validate(m *Metadata, hash SectionHasher) (err error) {
	if m.Magic != Magic {
		return invalid("bad magic")
	}

	size := m.Size()

	if size <= HeaderSize || size > SizeMax {
		return invalid("bad size %#x", size)
	}

	if v := int(m.HeaderVersion()); v > p.HeaderVersionMax {
		return invalid("unsupported header version %d", v)
	}

	if m.Entrypoint&3 != 0 {
		return invalid("unaligned entrypoint %#x", m.Entrypoint)
	}

	total := uint64(HeaderSize)

	for i := 0; i < ActiveSections; i++ {
		total += uint64(m.SectionSizes[i])
	}

	if total != uint64(size) {
		return invalid("section sizes do not match package size")
	}

	found := false
	off := uint32(0)

	for i := 0; i < ActiveSections; i++ {
		start := m.SectionOffsets[i]
		length := m.SectionSizes[i]

		if length&3 != 0 {
			return invalid("unaligned section %d size", i)
		}

		if uint64(start)+uint64(length) > math.MaxUint32 {
			return invalid("section %d overflow", i)
		}

		end := start + length

		if start <= m.Entrypoint && m.Entrypoint < end {
			found = true
		}

		for j := i + 1; j < ActiveSections; j++ {
			later := m.SectionOffsets[j]
			laterEnd := uint64(later) + uint64(m.SectionSizes[j])

			if overlaps(uint64(start), uint64(end), uint64(later), laterEnd) {
				return invalid("section %d overlaps section %d", i, j)
			}
		}

		if p.CheckHashes {
			var sum [HashSize]byte

			if sum, err = hash(i, off, length); err != nil {
				return
			}

			if !bytes.Equal(sum[:], m.SectionHashes[i][:]) {
				return invalid("section %d hash mismatch", i)
			}
		}

		off += length
	}

	if !found {
		return invalid("entrypoint outside of sections")
	}

	if m.VersionMin >= p.Version || m.VersionMax < p.Version {
		return invalid("unsupported version range [%d, %d]", m.VersionMin, m.VersionMax)
	}

	return
}
