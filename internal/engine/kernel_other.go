// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !linux || !(amd64 || arm || arm64)
// +build !linux !amd64,!arm,!arm64

package engine

import (
	"errors"
)

const (
	DCP_ALG  = "cbc-aes-dcp"
	SOFT_ALG = "cbc(aes)"
)

var errNoKernelCrypto = errors.New("kernel crypto API not supported on this platform")

func KernelDeriveKey(alg string, key []byte, diversifier []byte, iv []byte) ([]byte, error) {
	return nil, errNoKernelCrypto
}

func NewSoftFromKernel(alg string, key []byte) (*Soft, error) {
	return nil, errNoKernelCrypto
}
