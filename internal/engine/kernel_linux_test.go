// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux && (amd64 || arm || arm64)
// +build linux
// +build amd64 arm arm64

package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// NIST AES-128-CBC test vector key
const testKernelKey = "\x2b\x7e\x15\x16\x28\xae\xd2\xa6\xab\xf7\x15\x88\x09\xcf\x4f\x3c"

func requireAlg(t *testing.T, alg string) {
	fd, err := unix.Socket(unix.AF_ALG, unix.SOCK_SEQPACKET, 0)

	if err != nil {
		t.Skipf("AF_ALG unavailable, %v", err)
	}
	defer unix.Close(fd)

	if err = unix.Bind(fd, &unix.SockaddrALG{Type: "skcipher", Name: alg}); err != nil {
		t.Skipf("%s unavailable, %v", alg, err)
	}
}

func cbcEncrypt(t *testing.T, key []byte, iv []byte, src []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	dst := make([]byte, len(src))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst, src)

	return dst
}

func TestPad(t *testing.T) {
	assert.Equal(t, []byte("armoryMasterKey\x01"), pad([]byte(MASTER_KEY_DIV)))
	assert.Len(t, pad(make([]byte, 16)), 16)
	assert.Equal(t, append([]byte{0xab}, repeat(15, 15)...), pad([]byte{0xab}))
}

func repeat(b byte, n int) (buf []byte) {
	for i := 0; i < n; i++ {
		buf = append(buf, b)
	}

	return
}

func TestKernelDeriveKey(t *testing.T) {
	requireAlg(t, SOFT_ALG)

	iv := make([]byte, aes.BlockSize)
	div := []byte("diversifier of two blocks")

	out, err := KernelDeriveKey(SOFT_ALG, []byte(testKernelKey), div, iv)
	require.NoError(t, err)

	assert.Equal(t, cbcEncrypt(t, []byte(testKernelKey), iv, pad(div)), out)

	_, err = KernelDeriveKey(SOFT_ALG, []byte(testKernelKey), div, iv[:8])
	assert.Error(t, err)
}

func TestKernelDeriveKeyUnknownAlg(t *testing.T) {
	requireAlg(t, SOFT_ALG)

	_, err := KernelDeriveKey("cbc(nonexistent)", []byte(testKernelKey), []byte{1}, make([]byte, aes.BlockSize))
	assert.Error(t, err)
}

func TestNewSoftFromKernel(t *testing.T) {
	requireAlg(t, SOFT_ALG)

	s, err := NewSoftFromKernel(SOFT_ALG, []byte(testKernelKey))
	require.NoError(t, err)

	iv := make([]byte, aes.BlockSize)
	masterKey := cbcEncrypt(t, []byte(testKernelKey), iv, pad([]byte(MASTER_KEY_DIV)))
	deviceKey := cbcEncrypt(t, []byte(testKernelKey), iv, pad([]byte(DEVICE_KEY_DIV)))

	ref, err := NewSoft(masterKey, deviceKey)
	require.NoError(t, err)

	for _, slot := range []Slot{MASTER_KEY, DEVICE_KEY} {
		a := make([]byte, KeySize)
		b := make([]byte, KeySize)

		require.NoError(t, s.EncryptBlock(slot, a, make([]byte, KeySize)))
		require.NoError(t, ref.EncryptBlock(slot, b, make([]byte, KeySize)))
		assert.Equal(t, b, a, slot.String())
	}
}
