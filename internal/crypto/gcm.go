// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"encoding/binary"

	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

// Personalized key blob format:
//
//	CTR (16) || AES-CTR(DATA || DEVICE ID (8) || PAD (8)) || MAC (16)
//
// The MAC is a GHASH variant computed over the plaintext.
const (
	// GCMOverhead is the size difference between a blob and its data
	GCMOverhead = 0x30
	// GCMMaxData is the largest data size accepted for encryption
	GCMMaxData = 0x3d0

	ctrSize = 0x10
	macSize = 0x10
)

// gf128 represents a GF(2^128) element, hi holds the first 8 bytes in big
// endian order.
type gf128 struct {
	hi uint64
	lo uint64
}

func load128(buf []byte) gf128 {
	return gf128{
		hi: binary.BigEndian.Uint64(buf[0:8]),
		lo: binary.BigEndian.Uint64(buf[8:16]),
	}
}

func (x gf128) bytes() (buf []byte) {
	buf = make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], x.hi)
	binary.BigEndian.PutUint64(buf[8:16], x.lo)
	return
}

// gf128Mul multiplies in the GCM field (reflected bit order, x^128 + x^7 +
// x^2 + x + 1).
func gf128Mul(x gf128, y gf128) (z gf128) {
	v := y

	for i := 0; i < 128; i++ {
		var bit uint64

		if i < 64 {
			bit = (x.hi >> (63 - i)) & 1
		} else {
			bit = (x.lo >> (127 - i)) & 1
		}

		if bit == 1 {
			z.hi ^= v.hi
			z.lo ^= v.lo
		}

		carry := v.lo & 1
		v.lo = v.lo>>1 | v.hi<<63
		v.hi >>= 1

		if carry == 1 {
			v.hi ^= 0xe1 << 56
		}
	}

	return
}

// ghash computes the key blob GHASH with the key held in the temporary slot.
//
// It deliberately departs from GCM in two ways, existing blobs depend on
// both:
//   - a trailing partial block is not folded in, the accumulator is
//     multiplied once more as if the block was absent
//   - the bit length is XORed into the high half of the accumulator for the
//     final (tag) pass and into the low half for the J pass
//
// For the final pass the result is XORed with the encryption of j.
func (ctx *Context) ghash(data []byte, j []byte, final bool) (out []byte, err error) {
	var x gf128

	hbuf := make([]byte, 16)

	if err = ctx.EncryptBlock(engine.TEMP_KEY, hbuf, make([]byte, 16)); err != nil {
		return
	}

	h := load128(hbuf)
	bitLen := uint64(len(data)) * 8

	for ; len(data) >= 16; data = data[16:] {
		b := load128(data)
		x.hi ^= b.hi
		x.lo ^= b.lo
		x = gf128Mul(x, h)
	}

	if len(data) > 0 {
		x = gf128Mul(x, h)
	}

	if final {
		x.hi ^= bitLen
	} else {
		x.lo ^= bitLen
	}

	x = gf128Mul(x, h)

	if final {
		ej := make([]byte, 16)

		if err = ctx.EncryptBlock(engine.TEMP_KEY, ej, j); err != nil {
			return
		}

		e := load128(ej)
		x.hi ^= e.hi
		x.lo ^= e.lo
	}

	return x.bytes(), nil
}

func (ctx *Context) loadBlobKey(sealedKek []byte, wrappedKey []byte, u Usecase) (err error) {
	if err = ctx.Unseal(u, sealedKek, engine.TEMP_KEY); err != nil {
		return
	}

	return ctx.UnwrapKey(engine.TEMP_KEY, engine.TEMP_KEY, wrappedKey)
}

func (ctx *Context) mac(plaintext []byte, ctr []byte) (mac []byte, err error) {
	j, err := ctx.ghash(ctr, nil, false)

	if err != nil {
		return
	}

	return ctx.ghash(plaintext, j, true)
}

// GCMDecrypt decrypts a key blob with the key obtained by unsealing sealedKek
// for usecase u and unwrapping wrappedKey with it.
//
// Personalized blobs are authenticated and bound to the local device, their
// data is returned along with the device identifier high byte. Blobs that
// fail authentication result in ErrAuthentication. Non personalized blobs
// carry neither MAC nor device identifier and are returned whole, callers
// must restrict them to development units.
func (ctx *Context) GCMDecrypt(sealedKek []byte, wrappedKey []byte, u Usecase, personalized bool, src []byte) (data []byte, deviceIDHigh byte, err error) {
	if personalized && len(src) <= GCMOverhead || !personalized && len(src) <= ctrSize {
		return nil, 0, ErrInvalidArgument
	}

	defer ctx.clearTemp()

	if err = ctx.loadBlobKey(sealedKek, wrappedKey, u); err != nil {
		return
	}

	plaintext := make([]byte, len(src)-ctrSize)

	if err = ctx.CryptCTR(engine.TEMP_KEY, plaintext, src[ctrSize:], src[:ctrSize]); err != nil {
		return
	}

	if !personalized {
		return plaintext, 0, nil
	}

	defer zero(plaintext)

	mac, err := ctx.mac(plaintext[:len(src)-2*macSize], src[:ctrSize])

	if err != nil {
		return
	}

	if !equal(mac, src[len(src)-macSize:]) {
		return nil, 0, ErrAuthentication
	}

	n := len(src) - GCMOverhead
	id := binary.BigEndian.Uint64(plaintext[n : n+8])

	if id&engine.DeviceIDMask != ctx.device.DeviceID()&engine.DeviceIDMask {
		return nil, 0, ErrAuthentication
	}

	data = make([]byte, n)
	copy(data, plaintext)

	return data, plaintext[n], nil
}

// GCMEncrypt encrypts data as a personalized key blob bound to the local
// device, deviceIDHigh is stored alongside the device identifier.
func (ctx *Context) GCMEncrypt(sealedKek []byte, wrappedKey []byte, u Usecase, deviceIDHigh byte, data []byte) (blob []byte, err error) {
	if len(data) > GCMMaxData {
		return nil, ErrInvalidArgument
	}

	n := len(data)
	blob = make([]byte, n+GCMOverhead)

	if err = ctx.engine.Rand(blob[:ctrSize]); err != nil {
		return nil, engineError("rand", err)
	}

	return blob, ctx.gcmSeal(sealedKek, wrappedKey, u, deviceIDHigh, data, blob)
}

func (ctx *Context) gcmSeal(sealedKek []byte, wrappedKey []byte, u Usecase, deviceIDHigh byte, data []byte, blob []byte) (err error) {
	n := len(data)

	plaintext := make([]byte, n+2*8)
	defer zero(plaintext)

	copy(plaintext, data)
	binary.BigEndian.PutUint64(plaintext[n:], ctx.device.DeviceID()&engine.DeviceIDMask|uint64(deviceIDHigh)<<56)

	defer ctx.clearTemp()

	if err = ctx.loadBlobKey(sealedKek, wrappedKey, u); err != nil {
		return
	}

	mac, err := ctx.mac(plaintext, blob[:ctrSize])

	if err != nil {
		return
	}

	if err = ctx.CryptCTR(engine.TEMP_KEY, blob[ctrSize:ctrSize+len(plaintext)], plaintext, blob[:ctrSize]); err != nil {
		return
	}

	copy(blob[len(blob)-macSize:], mac)

	return
}
