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
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel crypto API skcipher names
const (
	// NXP DCP driver, an empty key selects the internal device key
	DCP_ALG = "cbc-aes-dcp"
	// generic software implementation
	SOFT_ALG = "cbc(aes)"
)

// KernelDeriveKey encrypts a diversifier with AES-128-CBC through the Linux
// kernel crypto API, equivalent to PKCS#11 C_DeriveKey with
// CKM_AES_CBC_ENCRYPT_DATA. The diversifier is padded to a block boundary.
func KernelDeriveKey(alg string, key []byte, diversifier []byte, iv []byte) (out []byte, err error) {
	if len(iv) != aes.BlockSize {
		return nil, errors.New("invalid IV size")
	}

	fd, err := unix.Socket(unix.AF_ALG, unix.SOCK_SEQPACKET, 0)

	if err != nil {
		return
	}
	defer unix.Close(fd)

	addr := &unix.SockaddrALG{
		Type: "skcipher",
		Name: alg,
	}

	if err = unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("%s unavailable, %v", alg, err)
	}

	if err = unix.SetsockoptString(fd, unix.SOL_ALG, unix.ALG_SET_KEY, string(key)); err != nil {
		return
	}

	opfd, _, errno := unix.Syscall(unix.SYS_ACCEPT, uintptr(fd), 0, 0)

	if errno != 0 {
		return nil, errno
	}
	defer unix.Close(int(opfd))

	input := pad(diversifier)
	out = make([]byte, len(input))

	if err = unix.Sendmsg(int(opfd), input, algCmsg(unix.ALG_OP_ENCRYPT, iv), nil, 0); err != nil {
		return nil, err
	}

	n, err := unix.Read(int(opfd), out)

	if err != nil {
		return nil, err
	}

	if n != len(out) {
		return nil, fmt.Errorf("short read (%d)", n)
	}

	return
}

// NewSoftFromKernel returns a software engine whose hardware resident keys
// are derived through the kernel crypto API, with the DCP_ALG cipher and an
// empty key they are tied to the running unit.
func NewSoftFromKernel(alg string, key []byte) (s *Soft, err error) {
	iv := make([]byte, aes.BlockSize)

	masterKey, err := KernelDeriveKey(alg, key, []byte(MASTER_KEY_DIV), iv)

	if err != nil {
		return
	}
	defer zero(masterKey)

	deviceKey, err := KernelDeriveKey(alg, key, []byte(DEVICE_KEY_DIV), iv)

	if err != nil {
		return
	}
	defer zero(deviceKey)

	return NewSoft(masterKey[:KeySize], deviceKey[:KeySize])
}

// algCmsg builds the ALG_SET_OP and ALG_SET_IV control messages.
func algCmsg(op uint32, iv []byte) []byte {
	opLen := 4
	ivLen := 4 + len(iv)

	buf := make([]byte, unix.CmsgSpace(opLen)+unix.CmsgSpace(ivLen))
	data := unix.CmsgLen(0)

	h := (*unix.Cmsghdr)(unsafe.Pointer(&buf[0]))
	h.Level = unix.SOL_ALG
	h.Type = unix.ALG_SET_OP
	h.SetLen(unix.CmsgLen(opLen))
	binary.NativeEndian.PutUint32(buf[data:], op)

	off := unix.CmsgSpace(opLen)

	h = (*unix.Cmsghdr)(unsafe.Pointer(&buf[off]))
	h.Level = unix.SOL_ALG
	h.Type = unix.ALG_SET_IV
	h.SetLen(unix.CmsgLen(ivLen))
	binary.NativeEndian.PutUint32(buf[off+data:], uint32(len(iv)))
	copy(buf[off+data+4:], iv)

	return buf
}

func pad(buf []byte) []byte {
	n := aes.BlockSize - len(buf)%aes.BlockSize

	if n == aes.BlockSize {
		return append([]byte{}, buf...)
	}

	return append(append([]byte{}, buf...), bytes.Repeat([]byte{byte(n)}, n)...)
}
