// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package firmware maps firmware release targets to the key generation they
// introduced and to the feature limits they impose.
package firmware

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// MasterKeyRevisionMax is the number of master key generations known to
// this build, valid revisions are 0..MasterKeyRevisionMax-1.
const MasterKeyRevisionMax = 8

// Package2Version is the package2 format version supported by this build.
const Package2Version = 0xE

// firmware releases introducing a new master key revision, in increasing
// order
var revisions = []string{
	"v1.0.0", // 0
	"v3.0.0", // 1
	"v3.0.1", // 2
	"v4.0.0", // 3
	"v5.0.0", // 4
	"v6.0.0", // 5
	"v6.2.0", // 6
	"v7.0.0", // 7
}

// Target represents the firmware release the monitor is serving.
type Target struct {
	version string
}

// Parse returns the target for a firmware version tag such as "5.1.0" or
// "v5.1.0".
func Parse(tag string) (t Target, err error) {
	v := tag

	if len(v) == 0 || v[0] != 'v' {
		v = "v" + v
	}

	if !semver.IsValid(v) {
		return t, fmt.Errorf("invalid firmware version %q", tag)
	}

	if semver.Compare(v, revisions[0]) < 0 {
		return t, fmt.Errorf("unsupported firmware version %q", tag)
	}

	t.version = semver.Canonical(v)

	return
}

// MustParse is like Parse but panics on invalid input, it is intended for
// constant version tags.
func MustParse(tag string) Target {
	t, err := Parse(tag)

	if err != nil {
		panic(err)
	}

	return t
}

func (t Target) String() string {
	return t.version
}

// AtLeast returns whether the target is the given release or later.
func (t Target) AtLeast(tag string) bool {
	return semver.Compare(t.version, MustParse(tag).version) >= 0
}

// MasterKeyRevision returns the newest master key revision available to the
// target.
func (t Target) MasterKeyRevision() (rev int) {
	for i, v := range revisions {
		if semver.Compare(t.version, v) >= 0 {
			rev = i
		}
	}

	return
}

// MaxUsecase returns the highest sealing usecase accepted by the target.
func (t Target) MaxUsecase() int {
	if t.AtLeast("5.0.0") {
		return 6
	}

	return 3
}
