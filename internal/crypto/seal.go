// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

// Usecase represents the context a sealed key may be unsealed for.
type Usecase int

// Sealing usecases
const (
	UsecaseAES Usecase = iota
	UsecaseRSAPrivate
	UsecaseSecureExpMod
	UsecaseRSAOAEP
	UsecaseRSAImport
	UsecaseESDeviceKey
	UsecaseDRMCert
)

var usecaseNames = []string{
	"aes", "rsa-private", "secure-exp-mod", "rsa-oaep",
	"rsa-import", "es-device-key", "drm-cert",
}

func (u Usecase) String() string {
	if u < 0 || int(u) >= len(usecaseNames) {
		return "invalid"
	}

	return usecaseNames[u]
}

// InitSession loads a fresh ephemeral session key, all values sealed before
// the call become unrecoverable.
func (ctx *Context) InitSession() error {
	return ctx.GenerateKey(engine.SESSION_KEY)
}

// HasSession returns whether a session key is loaded.
func (ctx *Context) HasSession() bool {
	return ctx.Loaded(engine.SESSION_KEY)
}

func (ctx *Context) sealSource(u Usecase) (src []byte, err error) {
	if u < 0 || int(u) > ctx.target.MaxUsecase() || int(u) >= len(ctx.keys.SealSources) {
		return nil, Fatal(CodeGeneric, "invalid sealing usecase %d", u)
	}

	return ctx.keys.SealSources[u][:], nil
}

func (ctx *Context) seal(source []byte, plaintext []byte) (sealed []byte, err error) {
	if len(plaintext) != KeySize {
		return nil, ErrInvalidArgument
	}

	defer ctx.clearTemp()

	if err = ctx.UnwrapKey(engine.TEMP_KEY, engine.SESSION_KEY, source); err != nil {
		return
	}

	sealed = make([]byte, KeySize)

	if err = ctx.EncryptBlock(engine.TEMP_KEY, sealed, plaintext); err != nil {
		return nil, err
	}

	return
}

func (ctx *Context) unseal(source []byte, sealed []byte, dst engine.Slot) (err error) {
	if len(sealed) != KeySize {
		return ErrInvalidArgument
	}

	if err = ctx.UnwrapKey(engine.TEMP_KEY, engine.SESSION_KEY, source); err != nil {
		return
	}

	err = ctx.UnwrapKey(dst, engine.TEMP_KEY, sealed)

	if dst != engine.TEMP_KEY || err != nil {
		ctx.clearTemp()
	}

	return
}

// Seal encrypts a key with the sealing key of the given usecase, so that it
// can leave the key bank. An invalid usecase is fatal.
func (ctx *Context) Seal(u Usecase, plaintext []byte) ([]byte, error) {
	source, err := ctx.sealSource(u)

	if err != nil {
		return nil, err
	}

	return ctx.seal(source, plaintext)
}

// Unseal decrypts a sealed key directly into a slot. Unsealing with a usecase
// different from the one used to seal loads an unrelated key, it is not
// detected.
func (ctx *Context) Unseal(u Usecase, sealed []byte, dst engine.Slot) error {
	source, err := ctx.sealSource(u)

	if err != nil {
		return err
	}

	return ctx.unseal(source, sealed, dst)
}

// SealTitleKey seals a title key with the dedicated title key sealing key.
func (ctx *Context) SealTitleKey(plaintext []byte) ([]byte, error) {
	return ctx.seal(ctx.keys.TitleKeySealSource[:], plaintext)
}

// UnsealTitleKey unseals a title key directly into a slot.
func (ctx *Context) UnsealTitleKey(sealed []byte, dst engine.Slot) error {
	return ctx.unseal(ctx.keys.TitleKeySealSource[:], sealed, dst)
}
