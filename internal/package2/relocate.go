// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package package2

import (
	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
)

// RelocationCandidates is the number of windows, following the staging
// buffer, searched for a relocation target.
const RelocationCandidates = 8

// candidates returns the relocation windows in increasing address order.
func candidates(staging uint64) (windows []uint64) {
	for i := uint64(1); i <= RelocationCandidates; i++ {
		windows = append(windows, staging+i*SizeMax)
	}

	return
}

func overlapsSections(m *Metadata, dramBase uint64, window uint64) bool {
	for i := 0; i < ActiveSections; i++ {
		start := dramBase + uint64(m.SectionOffsets[i])
		end := start + uint64(m.SectionSizes[i])

		if overlaps(start, end, window, window+SizeMax) {
			return true
		}
	}

	return false
}

// FindRelocation determines whether the package staged at staging must be
// moved before its sections are materialized at dramBase, and where to. The
// first candidate window not overlapping any section is selected, exhausting
// all candidates is fatal.
func FindRelocation(m *Metadata, staging uint64, dramBase uint64) (window uint64, relocate bool, err error) {
	if !overlapsSections(m, dramBase, staging) {
		return staging, false, nil
	}

	for _, window = range candidates(staging) {
		if !overlapsSections(m, dramBase, window) {
			return window, true, nil
		}
	}

	return 0, false, crypto.Fatal(crypto.CodePackage2Relocation, "no safe package2 relocation window")
}
