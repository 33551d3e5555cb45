// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

type slotCipher struct {
	engine Engine
	slot   Slot
}

// NewSlotCipher creates and returns a new cipher.Block. The slot argument
// represents a key slot, previously loaded with SetKey() or UnwrapKey(), used
// for AES-128 encryption without exposing its key.
//
// Engine errors cannot be reported through cipher.Block, callers must ensure
// the slot is loaded beforehand.
func NewSlotCipher(e Engine, slot Slot) cipher.Block {
	return &slotCipher{
		engine: e,
		slot:   slot,
	}
}

// BlockSize returns the AES block size in bytes.
func (c *slotCipher) BlockSize() int {
	return aes.BlockSize
}

// Encrypt performs single block encryption using AES-128-ECB.
func (c *slotCipher) Encrypt(dst []byte, src []byte) {
	if err := c.engine.EncryptBlock(c.slot, dst, src); err != nil {
		panic(err)
	}
}

// Decrypt performs single block decryption using AES-128-ECB.
func (c *slotCipher) Decrypt(dst []byte, src []byte) {
	if err := c.engine.DecryptBlock(c.slot, dst, src); err != nil {
		panic(err)
	}
}

// checkedBlock adapts fallible single block operations to cipher.Block, the
// first error is retained and output is left undefined after it.
type checkedBlock struct {
	encrypt func(dst []byte, src []byte) error
	decrypt func(dst []byte, src []byte) error

	err error
}

func (b *checkedBlock) BlockSize() int {
	return aes.BlockSize
}

func (b *checkedBlock) Encrypt(dst []byte, src []byte) {
	if err := b.encrypt(dst, src); err != nil && b.err == nil {
		b.err = err
	}
}

func (b *checkedBlock) Decrypt(dst []byte, src []byte) {
	if err := b.decrypt(dst, src); err != nil && b.err == nil {
		b.err = err
	}
}

// cryptCTR performs AES-CTR over a checkedBlock, on failure dst is wiped and
// the block error returned.
func cryptCTR(b *checkedBlock, dst []byte, src []byte, ctr []byte) error {
	if len(ctr) != aes.BlockSize || len(dst) < len(src) {
		return errors.New("invalid CTR arguments")
	}

	cipher.NewCTR(b, ctr).XORKeyStream(dst[:len(src)], src)

	if b.err != nil {
		zero(dst[:len(src)])
		return b.err
	}

	return nil
}
