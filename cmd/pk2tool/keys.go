// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	gocrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

const signerBits = 2048

// seed returns the device seed from flag or configuration.
func (a *app) seed(flag string) (seed []byte, err error) {
	if flag == "" {
		flag = a.conf.DeviceSeed
	}

	if seed, err = hex.DecodeString(flag); err != nil {
		return nil, fmt.Errorf("invalid seed, %w", err)
	}

	if len(seed) == 0 {
		return nil, errors.New("missing device seed")
	}

	return
}

// keysDir returns the provisioning directory from flag or configuration.
func (a *app) keysDir(flag string) (string, error) {
	if flag == "" {
		flag = a.conf.KeysDir
	}

	if flag == "" {
		return "", errors.New("missing keys directory")
	}

	return flag, nil
}

func loadSigner(path string) (key *rsa.PrivateKey, err error) {
	buf, err := os.ReadFile(path)

	if err != nil {
		return
	}

	block, _ := pem.Decode(buf)

	if block == nil {
		return nil, fmt.Errorf("no PEM data in %s", path)
	}

	if key, err = x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return
	}

	if key.N.BitLen() != signerBits || key.E != 65537 {
		return nil, fmt.Errorf("signing key must be RSA-%d with exponent 65537", signerBits)
	}

	return
}

// signer loads the RSA signing key at path, creating it when missing.
func signer(path string) (key *rsa.PrivateKey, created bool, err error) {
	if _, err = os.Stat(path); err == nil {
		key, err = loadSigner(path)
		return
	} else if !errors.Is(err, os.ErrNotExist) {
		return
	}

	if key, err = rsa.GenerateKey(rand.Reader, signerBits); err != nil {
		return
	}

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}

	return key, true, os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

func modulus(key *rsa.PrivateKey) []byte {
	return key.N.FillBytes(make([]byte, engine.RSASize))
}

func signPSS(key *rsa.PrivateKey) func([]byte) ([]byte, error) {
	return func(metadata []byte) ([]byte, error) {
		digest := sha256.Sum256(metadata)
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}

		return rsa.SignPSS(rand.Reader, key, gocrypto.SHA256, digest[:], opts)
	}
}
