// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"crypto/cipher"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

func TestNewContext(t *testing.T) {
	_, err := NewContext(Config{})
	assert.Error(t, err)

	f := newFixture(t, 0, true)

	_, err = NewContext(Config{Engine: f.soft, Device: f.device, Keys: f.keys})
	assert.Error(t, err)
}

func TestSlotState(t *testing.T) {
	ctx := newFixture(t, 0, true).context(t, "7.0.0")

	assert.True(t, ctx.Loaded(engine.MASTER_KEY))
	assert.True(t, ctx.Loaded(engine.DEVICE_KEY))
	assert.False(t, ctx.Loaded(engine.USER_KEY_3))
	assert.False(t, ctx.Loaded(engine.SLOT_COUNT))

	buf := make([]byte, KeySize)

	err := ctx.EncryptBlock(engine.USER_KEY_3, buf, buf)
	requireFatal(t, err, CodeGeneric)

	err = ctx.UnwrapKey(engine.USER_KEY_0, engine.PACKAGE2_KEY, buf)
	requireFatal(t, err, CodeGeneric)

	_, err = ctx.Block(engine.SESSION_KEY)
	requireFatal(t, err, CodeGeneric)

	requireFatal(t, ctx.ClearKey(engine.MASTER_KEY), CodeGeneric)
	requireFatal(t, ctx.ClearKey(engine.DEVICE_KEY), CodeGeneric)

	require.NoError(t, ctx.SetKey(engine.USER_KEY_3, testBlobKey))
	require.NoError(t, ctx.EncryptBlock(engine.USER_KEY_3, buf, buf))

	require.NoError(t, ctx.ClearKey(engine.USER_KEY_3))
	assert.False(t, ctx.Loaded(engine.USER_KEY_3))

	// engine failures are not recoverable
	requireFatal(t, ctx.SetKey(engine.USER_KEY_3, buf[:5]), CodeGeneric)
}

func TestSlotBlock(t *testing.T) {
	ctx := newFixture(t, 0, true).context(t, "7.0.0")
	require.NoError(t, ctx.SetKey(engine.USER_KEY_1, testBlobKey))

	b, err := ctx.Block(engine.USER_KEY_1)
	require.NoError(t, err)

	var _ cipher.Block = b

	out := make([]byte, KeySize)
	b.Encrypt(out, testCTR)
	assert.Equal(t, aesEncrypt(t, testBlobKey, testCTR), out)

	b.Decrypt(out, out)
	assert.Equal(t, testCTR, out)
}

func TestGuard(t *testing.T) {
	ctx := newFixture(t, 0, true).context(t, "7.0.0")
	guard := NewGuard(ctx)

	owned, release := guard.Acquire()
	assert.Same(t, ctx, owned)

	require.NoError(t, owned.SetKey(engine.TEMP_KEY, testBlobKey))

	_, _, ok := guard.TryAcquire()
	assert.False(t, ok)

	release()

	// scratch slot does not survive the release
	assert.False(t, ctx.Loaded(engine.TEMP_KEY))

	owned, release, ok = guard.TryAcquire()
	require.True(t, ok)
	assert.Same(t, ctx, owned)
	release()
}

func TestIsFatal(t *testing.T) {
	err := fmt.Errorf("boot, %w", Fatal(CodePackage2Relocation, "no window"))

	code, ok := IsFatal(err)
	assert.True(t, ok)
	assert.Equal(t, CodePackage2Relocation, code)
	assert.Contains(t, err.Error(), "0xfaf00002")

	_, ok = IsFatal(ErrInvalidArgument)
	assert.False(t, ok)
}
