// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package engine

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/f-secure-foundry/tamago/soc/imx6"
	"github.com/f-secure-foundry/tamago/soc/imx6/dcp"

	"github.com/f-secure-foundry/crucible/otp"
)

// DCP key RAM slots, higher slot indices are CPU bound
const keyRAMSlots = 4

// IV for single block operations, as DCP only implements CBC
var zeroIV = make([]byte, aes.BlockSize)

// dcpEncrypt performs single block encryption using AES-128-CBC with zero IV.
func dcpEncrypt(keyIndex int, dst []byte, src []byte) error {
	if len(src) != aes.BlockSize || len(dst) < aes.BlockSize {
		return errors.New("invalid block size")
	}

	copy(dst, src)

	if err := dcp.Encrypt(dst[:aes.BlockSize], keyIndex, zeroIV); err != nil {
		zero(dst[:aes.BlockSize])
		return err
	}

	return nil
}

// dcpDecrypt performs single block decryption using AES-128-CBC with zero IV.
func dcpDecrypt(keyIndex int, dst []byte, src []byte) error {
	if len(src) != aes.BlockSize || len(dst) < aes.BlockSize {
		return errors.New("invalid block size")
	}

	copy(dst, src)

	if err := dcp.Decrypt(dst[:aes.BlockSize], keyIndex, zeroIV); err != nil {
		zero(dst[:aes.BlockSize])
		return err
	}

	return nil
}

func keyRAM(slot Slot) bool {
	return slot >= 0 && slot < keyRAMSlots
}

// DCP implements Engine on the NXP Data Co-Processor. The first key slots
// live in DCP key RAM, the hardware resident master and device keys are
// derived from the OTPMK and moved to key RAM without ever being exposed to
// external RAM or the Go runtime.
//
// IMPORTANT: the unique OTPMK internal key is available only when Secure Boot
// (HAB) is enabled, otherwise a Non-volatile Test Key (NVTK), identical for
// each SoC, is used.
type DCP struct {
	Soft
}

// NewDCP initializes the DCP and derives the hardware resident keys.
func NewDCP() (d *DCP, err error) {
	dcp.Init()

	d = &DCP{
		Soft: Soft{
			Entropy: rand.Reader,
		},
	}

	// It is advised to use only deterministic input data for key
	// derivation, therefore we use an empty IV.
	iv := make([]byte, aes.BlockSize)

	if _, err = dcp.DeriveKey([]byte(MASTER_KEY_DIV), iv, int(MASTER_KEY)); err != nil {
		return
	}

	_, err = dcp.DeriveKey([]byte(DEVICE_KEY_DIV), iv, int(DEVICE_KEY))

	return
}

func (d *DCP) SetKey(slot Slot, key []byte) error {
	if keyRAM(slot) {
		if len(key) != KeySize {
			return errors.New("invalid key size")
		}

		return dcp.SetKey(int(slot), key)
	}

	return d.Soft.SetKey(slot, key)
}

func (d *DCP) UnwrapKey(dst Slot, src Slot, wrapped []byte) (err error) {
	key := make([]byte, KeySize)
	defer zero(key)

	if err = d.DecryptBlock(src, key, wrapped); err != nil {
		return
	}

	return d.SetKey(dst, key)
}

func (d *DCP) ClearKey(slot Slot) error {
	if keyRAM(slot) {
		return dcp.SetKey(int(slot), make([]byte, KeySize))
	}

	return d.Soft.ClearKey(slot)
}

func (d *DCP) GenerateKey(slot Slot) (err error) {
	key := make([]byte, KeySize)
	defer zero(key)

	if err = d.Rand(key); err != nil {
		return
	}

	return d.SetKey(slot, key)
}

func (d *DCP) EncryptBlock(slot Slot, dst []byte, src []byte) error {
	if keyRAM(slot) {
		return dcpEncrypt(int(slot), dst, src)
	}

	return d.Soft.EncryptBlock(slot, dst, src)
}

func (d *DCP) DecryptBlock(slot Slot, dst []byte, src []byte) error {
	if keyRAM(slot) {
		return dcpDecrypt(int(slot), dst, src)
	}

	return d.Soft.DecryptBlock(slot, dst, src)
}

func (d *DCP) CryptCTR(slot Slot, dst []byte, src []byte, ctr []byte) error {
	if !keyRAM(slot) {
		return d.Soft.CryptCTR(slot, dst, src, ctr)
	}

	b := &checkedBlock{
		encrypt: func(dst []byte, src []byte) error { return dcpEncrypt(int(slot), dst, src) },
		decrypt: func(dst []byte, src []byte) error { return dcpDecrypt(int(slot), dst, src) },
	}

	return cryptCTR(b, dst, src, ctr)
}

func (d *DCP) EncryptCBC(slot Slot, dst []byte, src []byte, iv []byte) error {
	if keyRAM(slot) {
		if len(iv) != aes.BlockSize || len(src)%aes.BlockSize != 0 || len(dst) < len(src) {
			return errors.New("invalid CBC arguments")
		}

		copy(dst, src)

		return dcp.Encrypt(dst[:len(src)], int(slot), iv)
	}

	return d.Soft.EncryptCBC(slot, dst, src, iv)
}

func (d *DCP) Sum256(buf []byte) [32]byte {
	return sha256.Sum256(buf)
}

// NewFuses reads the device identity from the i.MX6 On-Chip OTP Controller,
// units are retail once Secure Boot is active.
func NewFuses(firmware string) (*Fuses, error) {
	// OCOTP_CFG0 and OCOTP_CFG1 hold the 64-bit SoC unique ID
	readUID := func() ([]byte, error) {
		return otp.ReadOCOTP(0, 1, 0, 64)
	}

	return newFuses(firmware, readUID, imx6.SNVS())
}
