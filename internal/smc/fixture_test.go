// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package smc

import (
	"crypto/aes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/f-secure-foundry/armory-monitor/assets"
	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
)

const (
	testRevision = 2
	testDeviceID = 0x0042424242424242
)

type testEnv struct {
	masterKeys [][]byte
	deviceKey  []byte
	keys       *assets.Keys

	ctx     *crypto.Context
	monitor *Monitor
	resets  []uint32
}

func fill(r *rand.Rand, buf []byte) []byte {
	r.Read(buf)
	return buf
}

// newEnv returns a monitor over a key hierarchy detected at testRevision,
// without session when session is false.
func newEnv(t *testing.T, tag string, retail bool, session bool) *testEnv {
	r := rand.New(rand.NewSource(7))

	env := &testEnv{
		deviceKey: fill(r, make([]byte, crypto.KeySize)),
		keys:      &assets.Keys{},
	}

	for i := 0; i <= testRevision; i++ {
		env.masterKeys = append(env.masterKeys, fill(r, make([]byte, crypto.KeySize)))
	}

	vectors, err := crypto.CheckVectors(env.masterKeys)
	require.NoError(t, err)

	if retail {
		copy(env.keys.RetailVectors[:], vectors)
	} else {
		copy(env.keys.DevVectors[:], vectors)
	}

	for i := range env.keys.DeviceKeySources {
		fill(r, env.keys.DeviceKeySources[i][:])
	}

	for i := range env.keys.SealSources {
		fill(r, env.keys.SealSources[i][:])
	}

	fill(r, env.keys.TitleKeySealSource[:])
	fill(r, env.keys.TitleKekSources[0][:])
	fill(r, env.keys.TitleKekSources[1][:])
	fill(r, env.keys.Package2KeySource[:])

	soft, err := engine.NewSoft(env.masterKeys[testRevision], env.deviceKey)
	require.NoError(t, err)

	env.ctx, err = crypto.NewContext(crypto.Config{
		Engine: soft,
		Device: &engine.StaticDevice{ID: testDeviceID, Retail: retail, Firmware: tag},
		Keys:   env.keys,
		Target: firmware.MustParse(tag),
	})
	require.NoError(t, err)

	_, err = env.ctx.DetectRevision()
	require.NoError(t, err)

	if session {
		require.NoError(t, env.ctx.InitSession())
	}

	env.monitor = &Monitor{
		Guard: crypto.NewGuard(env.ctx),
		Reset: func(code uint32) {
			env.resets = append(env.resets, code)
		},
	}

	return env
}

// locked runs fn with exclusive access to the crypto context.
func (env *testEnv) locked(fn func(ctx *crypto.Context)) {
	ctx, release := env.monitor.Guard.Acquire()
	defer release()

	fn(ctx)
}

func (env *testEnv) seal(t *testing.T, u crypto.Usecase, key []byte) (sealed []byte) {
	env.locked(func(ctx *crypto.Context) {
		var err error
		sealed, err = ctx.Seal(u, key)
		require.NoError(t, err)
	})

	return
}

// blob returns a personalized key blob holding data, along with the key
// material required to open it.
func (env *testEnv) blob(t *testing.T, u crypto.Usecase, kek []byte, key []byte, data []byte) (sealedKek []byte, wrappedKey []byte, blob []byte) {
	sealedKek = env.seal(t, u, kek)
	wrappedKey = aesEncrypt(t, kek, key)

	env.locked(func(ctx *crypto.Context) {
		var err error
		blob, err = ctx.GCMEncrypt(sealedKek, wrappedKey, u, 0, data)
		require.NoError(t, err)
	})

	return
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
