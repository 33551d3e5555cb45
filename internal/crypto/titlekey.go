// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

// RSA-OAEP encoded message layout
const (
	oaepSize     = engine.RSASize
	oaepSaltSize = sha256.Size
	oaepDBSize   = oaepSize - 1 - oaepSaltSize
	// label hash at the start of the unmasked DB
	oaepLabelSize = sha256.Size
)

// mgf1XOR XORs dst with the MGF1-SHA-256 mask generated from seed.
func mgf1XOR(dst []byte, seed []byte) {
	var counter [4]byte

	for done := 0; done < len(dst); {
		h := sha256.New()
		h.Write(seed)
		h.Write(counter[:])
		digest := h.Sum(nil)

		for i := 0; i < len(digest) && done < len(dst); i++ {
			dst[done] ^= digest[i]
			done++
		}

		binary.BigEndian.PutUint32(counter[:], binary.BigEndian.Uint32(counter[:])+1)
	}
}

// RsaOaepUnwrap decodes the result of an RSA exponentiation as an RSA-OAEP
// encoded message and returns the key it carries, which must not exceed size
// bytes.
//
// The unmasked label hash must match labelHash, whose provenance is not
// verified here: callers vouch for it. Any structural violation results in
// ErrInvalidArgument and an empty key.
func RsaOaepUnwrap(em []byte, labelHash []byte, size int) (key []byte, err error) {
	if len(em) != oaepSize || len(labelHash) != oaepLabelSize {
		return nil, ErrInvalidArgument
	}

	salt := make([]byte, oaepSaltSize)
	db := make([]byte, oaepDBSize)

	copy(salt, em[1:1+oaepSaltSize])
	copy(db, em[1+oaepSaltSize:])

	defer zero(db)

	mgf1XOR(salt, db)
	mgf1XOR(db, salt)

	if labelOK := equal(db[:oaepLabelSize], labelHash); em[0] != 0 || !labelOK {
		return nil, ErrInvalidArgument
	}

	// 00* 01 || key
	padding := db[oaepLabelSize:]
	i := 0

	for i < len(padding) && padding[i] == 0 {
		i++
	}

	if i == len(padding) || padding[i] != 0x01 {
		return nil, ErrInvalidArgument
	}

	msg := padding[i+1:]

	if len(msg) == 0 || len(msg) > size {
		return nil, ErrInvalidArgument
	}

	key = make([]byte, len(msg))
	copy(key, msg)

	return
}

// AesUnwrap decrypts a title key with the title key encryption key, derived
// from the master key at the given revision. The title key type selects the
// key encryption key source.
func (ctx *Context) AesUnwrap(rev int, kind int, wrapped []byte) (titleKey []byte, err error) {
	if kind < 0 || kind >= len(ctx.keys.TitleKekSources) || len(wrapped) != KeySize {
		return nil, ErrInvalidArgument
	}

	defer ctx.clearTemp()

	slot, err := ctx.KeySlotFor(rev)

	if err != nil {
		return
	}

	if err = ctx.UnwrapKey(engine.TEMP_KEY, slot, ctx.keys.TitleKekSources[kind][:]); err != nil {
		return
	}

	titleKey = make([]byte, KeySize)

	if err = ctx.DecryptBlock(engine.TEMP_KEY, titleKey, wrapped); err != nil {
		return nil, err
	}

	return
}
