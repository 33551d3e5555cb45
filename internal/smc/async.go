// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smc

import (
	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
)

// RSA private exponent import requires this firmware generation or later.
const importMinFirmware = "5.0.0"

// start records a pending exponentiation result, a result which has not been
// fetched blocks further starts.
func (m *Monitor) start(op asyncOp, p pending) Status {
	if m.async.op != asyncNone {
		zero(p.result)
		return StatusBusy
	}

	p.op = op
	m.async = p

	return StatusSuccess
}

// finish consumes the pending result for op.
func (m *Monitor) finish(op asyncOp) (p pending, s Status) {
	switch m.async.op {
	case asyncNone:
		return p, StatusNoAsyncOperation
	case op:
		p = m.async
		m.async = pending{}
		return p, StatusSuccess
	default:
		return p, StatusInvalidAsyncOperation
	}
}

// Pending returns whether an exponentiation result awaits retrieval.
func (m *Monitor) Pending() bool {
	return m.async.op != asyncNone
}

func expMod(ctx *crypto.Context, base []byte, exponent []byte, modulus []byte) (out []byte, err error) {
	if len(base) != engine.RSASize || len(modulus) != engine.RSASize || len(exponent) == 0 {
		return nil, crypto.ErrInvalidArgument
	}

	if out, err = ctx.Engine().ExpMod(base, exponent, modulus); err != nil {
		return nil, crypto.Fatal(crypto.CodeGeneric, "exp mod, %v", err)
	}

	return
}

// StartRsaOaepUnwrap starts the first phase of an RSA-OAEP wrapped title key
// unwrap. The private exponent is recovered from a personalized key blob
// sealed for RSA-OAEP use, the message is exponentiated with it and the
// result is kept, along with the expected label hash and the title key
// encryption parameters, until FinishRsaOaepUnwrap.
func (m *Monitor) StartRsaOaepUnwrap(sealedKek []byte, wrappedKey []byte, exponentBlob []byte, modulus []byte, msg []byte, labelHash []byte, rev int, keyType int) (s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	if m.Pending() {
		return StatusBusy
	}

	if !validRevision(ctx, rev) || len(labelHash) != 32 {
		return StatusInvalidArgument
	}

	exponent, _, err := ctx.GCMDecrypt(sealedKek, wrappedKey, crypto.UsecaseRSAOAEP, true, exponentBlob)

	if err != nil {
		return m.status("start rsa oaep unwrap", err)
	}
	defer zero(exponent)

	result, err := expMod(ctx, msg, exponent, modulus)

	if err != nil {
		return m.status("start rsa oaep unwrap", err)
	}

	return m.start(asyncRsaOaep, pending{
		result:    result,
		labelHash: append([]byte{}, labelHash...),
		revision:  rev,
		keyType:   keyType,
	})
}

// FinishRsaOaepUnwrap completes a pending RSA-OAEP title key unwrap,
// returning the title key sealed.
func (m *Monitor) FinishRsaOaepUnwrap() (sealed []byte, s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	p, s := m.finish(asyncRsaOaep)

	if s != StatusSuccess {
		return
	}
	defer zero(p.result)

	wrapped, err := crypto.RsaOaepUnwrap(p.result, p.labelHash, crypto.KeySize)

	if err != nil {
		return nil, m.status("finish rsa oaep unwrap", err)
	}
	defer zero(wrapped)

	titleKey, err := ctx.AesUnwrap(p.revision, p.keyType, wrapped)

	if err != nil {
		return nil, m.status("finish rsa oaep unwrap", err)
	}
	defer zero(titleKey)

	sealed, err = ctx.SealTitleKey(titleKey)

	return sealed, m.status("finish rsa oaep unwrap", err)
}

// ImportRsaKey recovers an RSA private exponent from a personalized key blob
// sealed for import use and keeps it in one of the import slots, for later
// use by StartSecureExpMod.
func (m *Monitor) ImportRsaKey(index int, sealedKek []byte, wrappedKey []byte, exponentBlob []byte) (s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	if !ctx.Target().AtLeast(importMinFirmware) {
		return StatusNotImplemented
	}

	if index < 0 || index >= ImportedKeys {
		return StatusInvalidArgument
	}

	exponent, _, err := ctx.GCMDecrypt(sealedKek, wrappedKey, crypto.UsecaseRSAImport, true, exponentBlob)

	if err != nil {
		return m.status("import rsa key", err)
	}

	zero(m.imported[index])
	m.imported[index] = exponent

	logger.Log.Debugw("rsa key imported", "index", index)

	return StatusSuccess
}

// StartSecureExpMod starts an exponentiation with a previously imported
// private exponent.
func (m *Monitor) StartSecureExpMod(index int, base []byte, modulus []byte) (s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	if m.Pending() {
		return StatusBusy
	}

	if index < 0 || index >= ImportedKeys || len(m.imported[index]) == 0 {
		return StatusInvalidArgument
	}

	result, err := expMod(ctx, base, m.imported[index], modulus)

	if err != nil {
		return m.status("start secure exp mod", err)
	}

	return m.start(asyncExpMod, pending{result: result})
}

// FinishSecureExpMod returns the result of a pending secure exponentiation.
func (m *Monitor) FinishSecureExpMod() (out []byte, s Status) {
	_, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	p, s := m.finish(asyncExpMod)

	if s != StatusSuccess {
		return
	}

	return p.result, StatusSuccess
}

// DecryptDeviceUniqueData decrypts a key blob with the key encryption key
// sealed for usecase u. Non personalized blobs are accepted on development
// units only.
func (m *Monitor) DecryptDeviceUniqueData(sealedKek []byte, wrappedKey []byte, u crypto.Usecase, personalized bool, blob []byte) (data []byte, s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	if !validUsecase(ctx, u) || !personalized && ctx.Device().IsRetail() {
		return nil, StatusInvalidArgument
	}

	data, _, err := ctx.GCMDecrypt(sealedKek, wrappedKey, u, personalized, blob)

	return data, m.status("decrypt device unique data", err)
}

// ReencryptDeviceUniqueData decrypts a personalized key blob and encrypts it
// again under a different key encryption key, preserving the stored device
// identifier high byte.
func (m *Monitor) ReencryptDeviceUniqueData(srcKek []byte, srcKey []byte, dstKek []byte, dstKey []byte, u crypto.Usecase, blob []byte) (out []byte, s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	if !validUsecase(ctx, u) {
		return nil, StatusInvalidArgument
	}

	data, high, err := ctx.GCMDecrypt(srcKek, srcKey, u, true, blob)

	if err != nil {
		return nil, m.status("reencrypt device unique data", err)
	}
	defer zero(data)

	out, err = ctx.GCMEncrypt(dstKek, dstKey, u, high, data)

	return out, m.status("reencrypt device unique data", err)
}
