// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/f-secure-foundry/armory-monitor/assets"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
)

const testDeviceID = 0x0012345678abcdef

type fixture struct {
	masterKeys [][]byte
	deviceKey  []byte

	keys   *assets.Keys
	soft   *engine.Soft
	device *engine.StaticDevice
}

func randomBytes(r *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func randomBlock(r *rand.Rand) (b assets.Block) {
	r.Read(b[:])
	return
}

// newFixture provisions a key hierarchy whose hardware master key is at
// revision rev.
func newFixture(t *testing.T, rev int, retail bool) *fixture {
	r := rand.New(rand.NewSource(int64(rev) + 1))

	f := &fixture{
		deviceKey: randomBytes(r, KeySize),
		keys:      &assets.Keys{},
		device: &engine.StaticDevice{
			ID:       testDeviceID,
			Retail:   retail,
			Firmware: "7.0.0",
		},
	}

	for i := 0; i <= rev; i++ {
		f.masterKeys = append(f.masterKeys, randomBytes(r, KeySize))
	}

	vectors, err := CheckVectors(f.masterKeys)
	require.NoError(t, err)

	for i := range f.keys.RetailVectors {
		f.keys.RetailVectors[i] = randomBlock(r)
		f.keys.DevVectors[i] = randomBlock(r)
		f.keys.DeviceKeySources[i] = randomBlock(r)
	}

	if retail {
		copy(f.keys.RetailVectors[:], vectors)
	} else {
		copy(f.keys.DevVectors[:], vectors)
	}

	for i := range f.keys.SealSources {
		f.keys.SealSources[i] = randomBlock(r)
	}

	f.keys.TitleKeySealSource = randomBlock(r)
	f.keys.TitleKekSources[0] = randomBlock(r)
	f.keys.TitleKekSources[1] = randomBlock(r)
	f.keys.Package2KeySource = randomBlock(r)

	f.soft, err = engine.NewSoft(f.masterKeys[rev], f.deviceKey)
	require.NoError(t, err)

	return f
}

func (f *fixture) context(t *testing.T, tag string) *Context {
	ctx, err := NewContext(Config{
		Engine: f.soft,
		Device: f.device,
		Keys:   f.keys,
		Target: firmware.MustParse(tag),
	})

	require.NoError(t, err)

	return ctx
}

// detected returns a context with detected revision and an active session.
func (f *fixture) detected(t *testing.T) *Context {
	ctx := f.context(t, "7.0.0")

	_, err := ctx.DetectRevision()
	require.NoError(t, err)
	require.NoError(t, ctx.InitSession())

	return ctx
}

func aesEncrypt(t *testing.T, key []byte, src []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	dst := make([]byte, aes.BlockSize)
	block.Encrypt(dst, src)

	return dst
}

func aesDecrypt(t *testing.T, key []byte, src []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	dst := make([]byte, aes.BlockSize)
	block.Decrypt(dst, src)

	return dst
}

// slotFingerprint returns the encryption of a zero block with a slot, which
// identifies the key it holds.
func slotFingerprint(t *testing.T, ctx *Context, slot engine.Slot) []byte {
	out := make([]byte, KeySize)
	require.NoError(t, ctx.EncryptBlock(slot, out, make([]byte, KeySize)))
	return out
}

func requireFatal(t *testing.T, err error, code uint32) {
	t.Helper()

	c, ok := IsFatal(err)

	require.True(t, ok, "expected fatal error, got %v", err)
	require.Equal(t, code, c)
}
