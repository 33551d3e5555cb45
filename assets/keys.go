// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package assets holds the key hierarchy constants the monitor is rooted in,
// they are provisioned at build time (see embed_keys.go) or loaded from a
// directory on host builds.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

//go:generate go run embed_keys.go

const (
	// BlockSize is the size of all key sources and check vectors
	BlockSize = 16
	// ModulusSize is the size of package2 signature moduli
	ModulusSize = 256
	// Revisions is the number of master key revisions covered by the tables
	Revisions = 8
	// Usecases is the number of sealing usecases covered by the tables
	Usecases = 7
)

// Provisioning file names
const (
	RetailVectorsFile     = "check_vectors_retail.bin"
	DevVectorsFile        = "check_vectors_dev.bin"
	DeviceKeySourcesFile  = "device_key_sources.bin"
	SealSourcesFile       = "seal_key_sources.bin"
	TitleKeySealFile      = "titlekey_seal_source.bin"
	TitleKekSourcesFile   = "titlekek_sources.bin"
	Package2KeySourceFile = "package2_key_source.bin"
	RetailModulusFile     = "package2_modulus_retail.bin"
	DevModulusFile        = "package2_modulus_dev.bin"
)

// Block represents a 128-bit key source or check vector.
type Block [BlockSize]byte

// Keys represents the complete set of key hierarchy constants.
type Keys struct {
	// master key check vectors, entry i is master key i-1 encrypted with
	// master key i, entry 0 is a zero block encrypted with master key 0
	RetailVectors [Revisions]Block
	DevVectors    [Revisions]Block

	// per revision device key sources, entry 0 is unused
	DeviceKeySources [Revisions]Block

	// sealing key sources indexed by usecase
	SealSources [Usecases]Block
	// title key sealing source
	TitleKeySealSource Block

	// title key encryption key sources indexed by title key type
	TitleKekSources [2]Block

	// package2 key source
	Package2KeySource Block

	// package2 signature moduli
	RetailModulus [ModulusSize]byte
	DevModulus    [ModulusSize]byte
}

// Revision represents the firmware version served by this build, it is set
// at link time.
var Revision string

// provisioned holds the build time constants, indexed by file name
var provisioned map[string][]byte

// Provisioned returns whether key constants have been embedded at build
// time.
func Provisioned() bool {
	return len(provisioned) > 0
}

// Embedded returns the key constants embedded at build time.
func Embedded() (*Keys, error) {
	if !Provisioned() {
		return nil, errors.New("key constants not provisioned")
	}

	return parse(func(name string) ([]byte, error) {
		buf, ok := provisioned[name]

		if !ok {
			return nil, os.ErrNotExist
		}

		return buf, nil
	})
}

// LoadKeys reads the key constants from the provisioning files found in dir.
func LoadKeys(dir string) (*Keys, error) {
	return parse(func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, name))
	})
}

// Save writes the key constants as provisioning files in dir.
func (k *Keys) Save(dir string) (err error) {
	if err = os.MkdirAll(dir, 0700); err != nil {
		return
	}

	for name, buf := range k.files() {
		if err = os.WriteFile(filepath.Join(dir, name), buf, 0600); err != nil {
			return
		}
	}

	return
}

func (k *Keys) files() map[string][]byte {
	return map[string][]byte{
		RetailVectorsFile:     Join(k.RetailVectors[:]),
		DevVectorsFile:        Join(k.DevVectors[:]),
		DeviceKeySourcesFile:  Join(k.DeviceKeySources[:]),
		SealSourcesFile:       Join(k.SealSources[:]),
		TitleKeySealFile:      k.TitleKeySealSource[:],
		TitleKekSourcesFile:   Join(k.TitleKekSources[:]),
		Package2KeySourceFile: k.Package2KeySource[:],
		RetailModulusFile:     k.RetailModulus[:],
		DevModulusFile:        k.DevModulus[:],
	}
}

func parse(read func(name string) ([]byte, error)) (k *Keys, err error) {
	k = &Keys{}

	tables := map[string][]Block{
		RetailVectorsFile:    k.RetailVectors[:],
		DevVectorsFile:       k.DevVectors[:],
		DeviceKeySourcesFile: k.DeviceKeySources[:],
		SealSourcesFile:      k.SealSources[:],
		TitleKekSourcesFile:  k.TitleKekSources[:],
	}

	fixed := map[string][]byte{
		TitleKeySealFile:      k.TitleKeySealSource[:],
		Package2KeySourceFile: k.Package2KeySource[:],
		RetailModulusFile:     k.RetailModulus[:],
		DevModulusFile:        k.DevModulus[:],
	}

	for name, dst := range tables {
		var buf []byte

		if buf, err = read(name); err != nil {
			return nil, fmt.Errorf("could not read %s, %v", name, err)
		}

		blocks, err := Split(buf)

		if err != nil || len(blocks) != len(dst) {
			return nil, fmt.Errorf("invalid %s size (%d)", name, len(buf))
		}

		copy(dst, blocks)
	}

	for name, dst := range fixed {
		var buf []byte

		if buf, err = read(name); err != nil {
			return nil, fmt.Errorf("could not read %s, %v", name, err)
		}

		if len(buf) != len(dst) {
			return nil, fmt.Errorf("invalid %s size (%d)", name, len(buf))
		}

		copy(dst, buf)
	}

	return
}

// Split breaks buf into 128-bit blocks.
func Split(buf []byte) (blocks []Block, err error) {
	if len(buf)%BlockSize != 0 {
		return nil, errors.New("buffer is not block aligned")
	}

	for i := 0; i < len(buf); i += BlockSize {
		var b Block
		copy(b[:], buf[i:])
		blocks = append(blocks, b)
	}

	return
}

// Join concatenates blocks.
func Join(blocks []Block) (buf []byte) {
	for _, b := range blocks {
		buf = append(buf, b[:]...)
	}

	return
}
