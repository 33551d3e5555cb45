// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMaster = []byte("test master key.")
	testDevice = []byte("test device key.")
)

func TestSlots(t *testing.T) {
	assert.Equal(t, "temp", TEMP_KEY.String())
	assert.Equal(t, "invalid", SLOT_COUNT.String())
	assert.False(t, Slot(-1).Valid())

	s, ok := UserSlot(3)
	assert.True(t, ok)
	assert.Equal(t, USER_KEY_3, s)

	_, ok = UserSlot(4)
	assert.False(t, ok)
}

func TestSoftBlock(t *testing.T) {
	s, err := NewSoft(testMaster, testDevice)
	require.NoError(t, err)

	block, err := aes.NewCipher(testMaster)
	require.NoError(t, err)

	src := []byte("sixteen byte blk")
	expected := make([]byte, 16)
	block.Encrypt(expected, src)

	out := make([]byte, 16)
	require.NoError(t, s.EncryptBlock(MASTER_KEY, out, src))
	assert.Equal(t, expected, out)

	require.NoError(t, s.DecryptBlock(MASTER_KEY, out, out))
	assert.Equal(t, src, out)

	assert.Error(t, s.EncryptBlock(TEMP_KEY, out, src))
	assert.Error(t, s.EncryptBlock(MASTER_KEY, out, src[:8]))
	assert.Error(t, s.SetKey(SLOT_COUNT, testMaster))
	assert.Error(t, s.SetKey(TEMP_KEY, testMaster[:8]))
}

func TestSoftUnwrapClear(t *testing.T) {
	s, err := NewSoft(testMaster, testDevice)
	require.NoError(t, err)

	key := []byte("unwrapped key...")
	wrapped := make([]byte, 16)

	block, err := aes.NewCipher(testDevice)
	require.NoError(t, err)
	block.Encrypt(wrapped, key)

	require.NoError(t, s.UnwrapKey(USER_KEY_1, DEVICE_KEY, wrapped))

	ref, err := aes.NewCipher(key)
	require.NoError(t, err)

	expected := make([]byte, 16)
	ref.Encrypt(expected, testMaster)

	out := make([]byte, 16)
	require.NoError(t, s.EncryptBlock(USER_KEY_1, out, testMaster))
	assert.Equal(t, expected, out)

	require.NoError(t, s.ClearKey(USER_KEY_1))
	assert.Error(t, s.EncryptBlock(USER_KEY_1, out, testMaster))
}

func TestSoftModes(t *testing.T) {
	s, err := NewSoft(testMaster, testDevice)
	require.NoError(t, err)

	block, err := aes.NewCipher(testMaster)
	require.NoError(t, err)

	iv := bytes.Repeat([]byte{0xa5}, 16)
	src := bytes.Repeat([]byte("0123456789abcdef"), 3)

	expected := make([]byte, len(src))
	cipher.NewCTR(block, iv).XORKeyStream(expected, src)

	out := make([]byte, len(src))
	require.NoError(t, s.CryptCTR(MASTER_KEY, out, src, iv))
	assert.Equal(t, expected, out)

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(expected, src)
	require.NoError(t, s.EncryptCBC(MASTER_KEY, out, src, iv))
	assert.Equal(t, expected, out)

	assert.Error(t, s.EncryptCBC(MASTER_KEY, out, src[:20], iv))
	assert.Error(t, s.CryptCTR(MASTER_KEY, out, src, iv[:8]))
}

func TestSoftGenerateKey(t *testing.T) {
	s, err := NewSoft(testMaster, testDevice)
	require.NoError(t, err)

	s.Entropy = bytes.NewReader(testMaster)
	require.NoError(t, s.GenerateKey(SESSION_KEY))

	a := make([]byte, 16)
	b := make([]byte, 16)
	require.NoError(t, s.EncryptBlock(SESSION_KEY, a, testDevice))
	require.NoError(t, s.EncryptBlock(MASTER_KEY, b, testDevice))
	assert.Equal(t, b, a)

	// exhausted entropy
	assert.Error(t, s.GenerateKey(SESSION_KEY))
}

func TestNewSoftFromSeed(t *testing.T) {
	masterKey, deviceKey, err := RootKeys([]byte("seed"))
	require.NoError(t, err)
	assert.NotEqual(t, masterKey, deviceKey)

	s, err := NewSoftFromSeed([]byte("seed"))
	require.NoError(t, err)

	ref, err := NewSoft(masterKey, deviceKey)
	require.NoError(t, err)

	for _, slot := range []Slot{MASTER_KEY, DEVICE_KEY} {
		a := make([]byte, 16)
		b := make([]byte, 16)
		require.NoError(t, s.EncryptBlock(slot, a, testMaster))
		require.NoError(t, ref.EncryptBlock(slot, b, testMaster))
		assert.Equal(t, b, a, slot.String())
	}
}

func TestRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	modulus := key.N.FillBytes(make([]byte, RSASize))
	msg := []byte("signed metadata")
	digest := sha256.Sum256(msg)

	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	require.NoError(t, err)

	assert.True(t, VerifyPSS(sig, modulus, msg))
	assert.False(t, VerifyPSS(sig, modulus, []byte("other metadata")))
	assert.False(t, VerifyPSS(sig[:128], modulus, msg))

	base := big.NewInt(12345).FillBytes(make([]byte, RSASize))

	c, err := ExpMod(base, big.NewInt(65537).Bytes(), modulus)
	require.NoError(t, err)
	require.Len(t, c, RSASize)

	m, err := ExpMod(c, key.D.Bytes(), modulus)
	require.NoError(t, err)
	assert.Equal(t, base, m)

	_, err = ExpMod(base, nil, modulus)
	assert.Error(t, err)

	_, err = ExpMod(base, key.D.Bytes(), make([]byte, RSASize))
	assert.Error(t, err)
}

func TestSlotCipher(t *testing.T) {
	s, err := NewSoft(testMaster, testDevice)
	require.NoError(t, err)

	c := NewSlotCipher(s, DEVICE_KEY)
	assert.Equal(t, aes.BlockSize, c.BlockSize())

	ref, err := aes.NewCipher(testDevice)
	require.NoError(t, err)

	a := make([]byte, 16)
	b := make([]byte, 16)
	c.Encrypt(a, testMaster)
	ref.Encrypt(b, testMaster)
	assert.Equal(t, b, a)

	assert.Panics(t, func() {
		NewSlotCipher(s, USER_KEY_0).Encrypt(a, testMaster)
	})
}

func TestStaticDevice(t *testing.T) {
	d := &StaticDevice{ID: 0xff00000000000001, Retail: true, Firmware: "6.2.0"}

	assert.EqualValues(t, 0x0000000000000001, d.DeviceID())
	assert.True(t, d.IsRetail())
	assert.Equal(t, "6.2.0", d.Revision())
}
