// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

func TestSealRoundTrip(t *testing.T) {
	ctx := newFixture(t, 7, true).detected(t)

	for u := UsecaseAES; u <= UsecaseDRMCert; u++ {
		key := make([]byte, KeySize)

		for i := range key {
			key[i] = byte(int(u)*16 + i)
		}

		sealed, err := ctx.Seal(u, key)
		require.NoError(t, err, u.String())
		assert.NotEqual(t, key, sealed)
		assert.False(t, ctx.Loaded(engine.TEMP_KEY))

		again, err := ctx.Seal(u, key)
		require.NoError(t, err)
		assert.Equal(t, sealed, again)

		require.NoError(t, ctx.Unseal(u, sealed, engine.USER_KEY_0))
		assert.Equal(t, aesEncrypt(t, key, make([]byte, KeySize)), slotFingerprint(t, ctx, engine.USER_KEY_0), u.String())
		assert.False(t, ctx.Loaded(engine.TEMP_KEY))
	}
}

func TestUnsealWrongUsecase(t *testing.T) {
	ctx := newFixture(t, 1, true).detected(t)
	key := make([]byte, KeySize)

	sealed, err := ctx.Seal(UsecaseRSAOAEP, key)
	require.NoError(t, err)

	require.NoError(t, ctx.Unseal(UsecaseSecureExpMod, sealed, engine.USER_KEY_1))
	assert.NotEqual(t, aesEncrypt(t, key, make([]byte, KeySize)), slotFingerprint(t, ctx, engine.USER_KEY_1))
}

func TestSealSession(t *testing.T) {
	ctx := newFixture(t, 1, true).context(t, "7.0.0")
	key := make([]byte, KeySize)

	_, err := ctx.Seal(UsecaseAES, key)
	requireFatal(t, err, CodeGeneric)

	require.NoError(t, ctx.InitSession())
	assert.True(t, ctx.HasSession())

	first, err := ctx.Seal(UsecaseAES, key)
	require.NoError(t, err)

	require.NoError(t, ctx.InitSession())

	second, err := ctx.Seal(UsecaseAES, key)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestSealInvalidUsecase(t *testing.T) {
	f := newFixture(t, 3, true)

	ctx := f.context(t, "4.1.0")
	require.NoError(t, ctx.InitSession())

	for _, u := range []Usecase{-1, UsecaseRSAImport, UsecaseDRMCert, 7} {
		_, err := ctx.Seal(u, make([]byte, KeySize))
		requireFatal(t, err, CodeGeneric)

		err = ctx.Unseal(u, make([]byte, KeySize), engine.USER_KEY_0)
		requireFatal(t, err, CodeGeneric)
	}

	ctx = f.context(t, "5.0.0")
	require.NoError(t, ctx.InitSession())

	_, err := ctx.Seal(UsecaseRSAImport, make([]byte, KeySize))
	require.NoError(t, err)

	_, err = ctx.Seal(7, make([]byte, KeySize))
	requireFatal(t, err, CodeGeneric)
}

func TestSealInvalidSize(t *testing.T) {
	ctx := newFixture(t, 0, true).detected(t)

	_, err := ctx.Seal(UsecaseAES, make([]byte, KeySize+1))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = ctx.Unseal(UsecaseAES, make([]byte, KeySize-1), engine.USER_KEY_0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSealTitleKey(t *testing.T) {
	ctx := newFixture(t, 2, true).detected(t)
	key := []byte("0123456789abcdef")

	sealed, err := ctx.SealTitleKey(key)
	require.NoError(t, err)

	aesSealed, err := ctx.Seal(UsecaseAES, key)
	require.NoError(t, err)
	assert.NotEqual(t, aesSealed, sealed)

	require.NoError(t, ctx.UnsealTitleKey(sealed, engine.USER_KEY_2))
	assert.Equal(t, aesEncrypt(t, key, make([]byte, KeySize)), slotFingerprint(t, ctx, engine.USER_KEY_2))
}
