// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package engine

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// root key derivation diversifiers for seeded software engines
const (
	MASTER_KEY_DIV = "armoryMasterKey"
	DEVICE_KEY_DIV = "armoryDeviceKey"
)

// rsaPublicExponent is the fixed public exponent of all verified signatures
const rsaPublicExponent = 65537

// Soft implements Engine with CPU bound AES, it emulates the security engine
// key bank on hosts and in tests.
type Soft struct {
	// Entropy is the source for Rand() and GenerateKey(), it defaults to
	// crypto/rand.
	Entropy io.Reader

	slots [SLOT_COUNT]cipher.Block
}

// NewSoft returns a software engine with the hardware resident master and
// device keys loaded.
func NewSoft(masterKey []byte, deviceKey []byte) (s *Soft, err error) {
	s = &Soft{
		Entropy: rand.Reader,
	}

	if err = s.SetKey(MASTER_KEY, masterKey); err != nil {
		return
	}

	err = s.SetKey(DEVICE_KEY, deviceKey)

	return
}

// RootKeys expands a per device seed into the hardware resident master and
// device keys.
func RootKeys(seed []byte) (masterKey []byte, deviceKey []byte, err error) {
	masterKey = make([]byte, KeySize)
	deviceKey = make([]byte, KeySize)

	if _, err = io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(MASTER_KEY_DIV)), masterKey); err != nil {
		return nil, nil, err
	}

	if _, err = io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(DEVICE_KEY_DIV)), deviceKey); err != nil {
		return nil, nil, err
	}

	return
}

// NewSoftFromSeed returns a software engine whose hardware resident keys are
// expanded from a per device seed.
func NewSoftFromSeed(seed []byte) (*Soft, error) {
	masterKey, deviceKey, err := RootKeys(seed)

	if err != nil {
		return nil, err
	}

	defer zero(masterKey)
	defer zero(deviceKey)

	return NewSoft(masterKey, deviceKey)
}

func (s *Soft) block(slot Slot) (cipher.Block, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("invalid key slot %d", slot)
	}

	if s.slots[slot] == nil {
		return nil, fmt.Errorf("key slot %s is empty", slot)
	}

	return s.slots[slot], nil
}

func (s *Soft) SetKey(slot Slot, key []byte) (err error) {
	if !slot.Valid() {
		return fmt.Errorf("invalid key slot %d", slot)
	}

	if len(key) != KeySize {
		return errors.New("invalid key size")
	}

	s.slots[slot], err = aes.NewCipher(key)

	return
}

func (s *Soft) UnwrapKey(dst Slot, src Slot, wrapped []byte) (err error) {
	key := make([]byte, KeySize)
	defer zero(key)

	if err = s.DecryptBlock(src, key, wrapped); err != nil {
		return
	}

	return s.SetKey(dst, key)
}

func (s *Soft) ClearKey(slot Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("invalid key slot %d", slot)
	}

	s.slots[slot] = nil

	return nil
}

func (s *Soft) GenerateKey(slot Slot) (err error) {
	key := make([]byte, KeySize)
	defer zero(key)

	if err = s.Rand(key); err != nil {
		return
	}

	return s.SetKey(slot, key)
}

func (s *Soft) EncryptBlock(slot Slot, dst []byte, src []byte) error {
	block, err := s.block(slot)

	if err != nil {
		return err
	}

	if len(src) != aes.BlockSize || len(dst) < aes.BlockSize {
		return errors.New("invalid block size")
	}

	block.Encrypt(dst, src)

	return nil
}

func (s *Soft) DecryptBlock(slot Slot, dst []byte, src []byte) error {
	block, err := s.block(slot)

	if err != nil {
		return err
	}

	if len(src) != aes.BlockSize || len(dst) < aes.BlockSize {
		return errors.New("invalid block size")
	}

	block.Decrypt(dst, src)

	return nil
}

func (s *Soft) CryptCTR(slot Slot, dst []byte, src []byte, ctr []byte) error {
	block, err := s.block(slot)

	if err != nil {
		return err
	}

	if len(ctr) != aes.BlockSize {
		return errors.New("invalid counter size")
	}

	if len(dst) < len(src) {
		return errors.New("invalid output size")
	}

	cipher.NewCTR(block, ctr).XORKeyStream(dst[:len(src)], src)

	return nil
}

func (s *Soft) EncryptCBC(slot Slot, dst []byte, src []byte, iv []byte) error {
	block, err := s.block(slot)

	if err != nil {
		return err
	}

	if len(iv) != aes.BlockSize || len(src)%aes.BlockSize != 0 || len(dst) < len(src) {
		return errors.New("invalid CBC arguments")
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst[:len(src)], src)

	return nil
}

func (s *Soft) Sum256(buf []byte) [32]byte {
	return sha256.Sum256(buf)
}

func (s *Soft) VerifyPSS(sig []byte, modulus []byte, msg []byte) bool {
	return VerifyPSS(sig, modulus, msg)
}

func (s *Soft) ExpMod(base []byte, exponent []byte, modulus []byte) ([]byte, error) {
	return ExpMod(base, exponent, modulus)
}

func (s *Soft) Rand(buf []byte) (err error) {
	r := s.Entropy

	if r == nil {
		r = rand.Reader
	}

	_, err = io.ReadFull(r, buf)

	return
}

// VerifyPSS verifies an RSA-2048 PSS signature over SHA-256(msg) with public
// exponent 65537.
func VerifyPSS(sig []byte, modulus []byte, msg []byte) bool {
	if len(sig) != RSASize || len(modulus) != RSASize {
		return false
	}

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: rsaPublicExponent,
	}

	digest := sha256.Sum256(msg)

	opts := &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	}

	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, opts) == nil
}

// ExpMod computes base^exponent mod modulus, the result is left padded to
// the modulus length.
func ExpMod(base []byte, exponent []byte, modulus []byte) (out []byte, err error) {
	n := new(big.Int).SetBytes(modulus)

	if n.Sign() == 0 {
		return nil, errors.New("invalid modulus")
	}

	if len(exponent) == 0 {
		return nil, errors.New("invalid exponent")
	}

	b := new(big.Int).SetBytes(base)
	e := new(big.Int).SetBytes(exponent)

	res := new(big.Int).Exp(b, e, n).Bytes()

	out = make([]byte, len(modulus))
	copy(out[len(out)-len(res):], res)

	return
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
