// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package engine describes the primitive surface of the security engine
// consumed by the monitor: AES operations on named key slots, SHA-256, RSA
// primitives and random number generation.
//
// Key material loaded in a slot is never handed back by any operation, slots
// are only ever referenced by index.
package engine

import (
	"crypto/aes"
)

// Slot represents a key slot index within the engine key bank.
type Slot int

// Key slot indices
const (
	// hardware resident top master key
	MASTER_KEY Slot = iota
	// fuse bound device key
	DEVICE_KEY
	// ephemeral per boot sealing root
	SESSION_KEY
	// scratch slot, cleared after each operation
	TEMP_KEY
	// package2 decryption key
	PACKAGE2_KEY
	// key slots loadable by privileged callers
	USER_KEY_0
	USER_KEY_1
	USER_KEY_2
	USER_KEY_3

	SLOT_COUNT
)

const (
	// KeySize is the size of all slot keys (AES-128)
	KeySize = aes.BlockSize
	// RSASize is the size of RSA-2048 moduli, signatures and operands
	RSASize = 256
	// DeviceIDMask selects the usable bits of the fused device identifier
	DeviceIDMask = 0x00ffffffffffffff
)

var slotNames = [SLOT_COUNT]string{
	"master", "device", "session", "temp", "package2",
	"user0", "user1", "user2", "user3",
}

func (s Slot) String() string {
	if s < 0 || s >= SLOT_COUNT {
		return "invalid"
	}

	return slotNames[s]
}

// Valid returns whether the slot index exists within the key bank.
func (s Slot) Valid() bool {
	return s >= 0 && s < SLOT_COUNT
}

// UserSlot returns the n-th slot reserved for privileged callers.
func UserSlot(n int) (s Slot, ok bool) {
	if n < 0 || n > int(USER_KEY_3-USER_KEY_0) {
		return
	}

	return USER_KEY_0 + Slot(n), true
}

// Engine represents the security engine primitive surface. Implementations
// are not safe for concurrent use, callers serialize access.
type Engine interface {
	// SetKey loads raw key material into a slot.
	SetKey(slot Slot, key []byte) error
	// UnwrapKey AES-ECB decrypts a single block with the key held in src
	// and loads the result in dst, without exposing it.
	UnwrapKey(dst Slot, src Slot, wrapped []byte) error
	// ClearKey overwrites slot contents.
	ClearKey(slot Slot) error
	// GenerateKey loads a random key in a slot.
	GenerateKey(slot Slot) error

	// EncryptBlock performs single block AES-ECB encryption.
	EncryptBlock(slot Slot, dst []byte, src []byte) error
	// DecryptBlock performs single block AES-ECB decryption.
	DecryptBlock(slot Slot, dst []byte, src []byte) error
	// CryptCTR performs AES-CTR with a 128-bit big endian counter.
	CryptCTR(slot Slot, dst []byte, src []byte, ctr []byte) error
	// EncryptCBC performs AES-CBC encryption of block aligned input.
	EncryptCBC(slot Slot, dst []byte, src []byte, iv []byte) error

	// Sum256 returns the SHA-256 digest of buf.
	Sum256(buf []byte) [32]byte
	// VerifyPSS verifies an RSA-2048 PSS (SHA-256, MGF1-SHA-256) signature
	// with public exponent 65537.
	VerifyPSS(sig []byte, modulus []byte, msg []byte) bool
	// ExpMod computes base^exponent mod modulus, left padded to the
	// modulus size.
	ExpMod(base []byte, exponent []byte, modulus []byte) ([]byte, error)

	// Rand fills buf with random bytes.
	Rand(buf []byte) error
}

// Device represents the device identity surface.
type Device interface {
	// DeviceID returns the fused device identifier, only the lower 56 bits
	// are meaningful.
	DeviceID() uint64
	// IsRetail returns whether the unit is a production (non development)
	// unit.
	IsRetail() bool
	// Revision returns the active firmware revision tag (e.g. "6.2.0").
	Revision() string
}
