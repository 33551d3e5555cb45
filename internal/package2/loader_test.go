// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package package2

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f-secure-foundry/armory-monitor/assets"
	moncrypto "github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
	"github.com/f-secure-foundry/armory-monitor/internal/mem"
)

const testRevision = 4

var (
	signerOnce sync.Once
	signer     *rsa.PrivateKey
)

func testSigner(t *testing.T) *rsa.PrivateKey {
	signerOnce.Do(func() {
		var err error
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
	})

	return signer
}

type testEnv struct {
	masterKeys [][]byte
	keys       *assets.Keys
	memory     *mem.Emulated
	ctx        *moncrypto.Context
	loader     *Loader
}

func newTestEnv(t *testing.T, detect bool) *testEnv {
	env := &testEnv{
		keys:   &assets.Keys{},
		memory: mem.NewEmulated(),
	}

	for i := 0; i < firmware.MasterKeyRevisionMax; i++ {
		key := make([]byte, 16)
		_, _ = rand.Read(key)
		env.masterKeys = append(env.masterKeys, key)
	}

	vectors, err := moncrypto.CheckVectors(env.masterKeys[:testRevision+1])
	require.NoError(t, err)

	copy(env.keys.RetailVectors[:], vectors)
	_, _ = rand.Read(env.keys.Package2KeySource[:])
	copy(env.keys.RetailModulus[:], testSigner(t).N.Bytes())

	soft, err := engine.NewSoft(env.masterKeys[testRevision], make([]byte, 16))
	require.NoError(t, err)

	env.ctx, err = moncrypto.NewContext(moncrypto.Config{
		Engine: soft,
		Device: &engine.StaticDevice{Retail: true},
		Keys:   env.keys,
		Target: firmware.MustParse("6.0.0"),
	})
	require.NoError(t, err)

	if detect {
		rev, err := env.ctx.DetectRevision()
		require.NoError(t, err)
		require.Equal(t, testRevision, rev)
	}

	conf := DefaultConfig()
	conf.Policy.CheckHashes = true

	env.loader = &Loader{
		Config: conf,
		Memory: env.memory,
		Guard:  moncrypto.NewGuard(env.ctx),
	}

	return env
}

// packageKey returns the package2 key of a master key revision.
func (env *testEnv) packageKey(t *testing.T, rev int) []byte {
	block, err := aes.NewCipher(env.masterKeys[rev])
	require.NoError(t, err)

	key := make([]byte, 16)
	block.Decrypt(key, env.keys.Package2KeySource[:])

	return key
}

func sign(metadata []byte) ([]byte, error) {
	digest := sha256.Sum256(metadata)
	return rsa.SignPSS(rand.Reader, signer, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}

var (
	testKernel = bytes.Repeat([]byte{0x4b, 0x45, 0x52, 0x4e}, 0x400)
	testINI    = bytes.Repeat([]byte{0x49, 0x4e, 0x49, 0x31}, 0x100)
)

func testOptions(key []byte, signed bool) *Options {
	opts := &Options{
		Entrypoint:    0x60080,
		HeaderVersion: 2,
		VersionMax:    0xe,
		Sections: []Section{
			{Offset: 0x60000, Data: testKernel},
			{Offset: 0x100000, Data: testINI},
		},
		Key: key,
	}

	if signed {
		opts.Sign = sign
	}

	return opts
}

func (env *testEnv) stage(t *testing.T, opts *Options) []byte {
	raw, err := Build(opts)
	require.NoError(t, err)
	require.NoError(t, env.memory.Write(env.loader.StagingBase, raw))

	return raw
}

func (env *testEnv) requireLoaded(t *testing.T, h *Handoff) {
	kernel := make([]byte, len(testKernel))
	require.NoError(t, env.memory.Read(DRAMBase+0x60000, kernel))
	assert.Equal(t, testKernel, kernel)

	ini := make([]byte, len(testINI))
	require.NoError(t, env.memory.Read(DRAMBase+0x100000, ini))
	assert.Equal(t, testINI, ini)

	assert.Equal(t, uint64(DRAMBase+0x60080), h.Entrypoint)

	staged := make([]byte, HeaderSize+len(testKernel)+len(testINI))
	require.NoError(t, env.memory.Read(h.Source, staged))
	assert.Equal(t, make([]byte, len(staged)), staged)

	assert.False(t, env.ctx.Loaded(engine.PACKAGE2_KEY))
	assert.False(t, env.ctx.Loaded(engine.TEMP_KEY))
	assert.NotZero(t, env.memory.Flushes)
}

func requireFatal(t *testing.T, err error, code uint32) {
	t.Helper()

	c, ok := moncrypto.IsFatal(err)

	require.True(t, ok, "expected fatal error, got %v", err)
	require.Equal(t, code, c)
}

func TestLoadSigned(t *testing.T) {
	for rev := 0; rev <= testRevision; rev++ {
		env := newTestEnv(t, true)
		env.stage(t, testOptions(env.packageKey(t, rev), true))

		h, err := env.loader.Load()
		require.NoError(t, err, "revision %d", rev)

		assert.Equal(t, rev, h.Revision)
		assert.True(t, h.Signed)
		assert.False(t, h.Plaintext)
		assert.Equal(t, uint64(StagingBase), h.Source)
		assert.Nil(t, h.Hash)

		env.requireLoaded(t, h)
	}
}

func TestLoadInvalidSignature(t *testing.T) {
	env := newTestEnv(t, true)
	raw := env.stage(t, testOptions(env.packageKey(t, 1), true))

	raw[0x10] ^= 1
	require.NoError(t, env.memory.Write(StagingBase, raw[:SignatureSize]))

	_, err := env.loader.Load()
	requireFatal(t, err, moncrypto.CodePackage2Signature)

	// staging is wiped regardless of outcome
	staged := make([]byte, len(raw))
	require.NoError(t, env.memory.Read(StagingBase, staged))
	assert.Equal(t, make([]byte, len(raw)), staged)
}

func TestLoadUnsignedEncrypted(t *testing.T) {
	env := newTestEnv(t, true)
	env.stage(t, testOptions(env.packageKey(t, 3), false))

	h, err := env.loader.Load()
	require.NoError(t, err)

	assert.False(t, h.Signed)
	assert.Equal(t, 3, h.Revision)

	env.requireLoaded(t, h)
}

func TestLoadUnsignedPlaintext(t *testing.T) {
	env := newTestEnv(t, true)

	opts := testOptions(nil, false)
	opts.Sign = func([]byte) ([]byte, error) {
		return bytes.Repeat([]byte{0xab}, SignatureSize), nil
	}

	env.stage(t, opts)

	h, err := env.loader.Load()
	require.NoError(t, err)

	assert.False(t, h.Signed)
	assert.True(t, h.Plaintext)
	assert.Equal(t, -1, h.Revision)

	env.requireLoaded(t, h)
}

func TestLoadCorruptUnsigned(t *testing.T) {
	env := newTestEnv(t, true)
	raw := env.stage(t, testOptions(env.packageKey(t, 0), false))

	// a uniform signature does not vouch for an undecryptable header
	raw[SignatureSize+0x60] ^= 0xff
	require.NoError(t, env.memory.Write(StagingBase, raw[:HeaderSize]))

	env.keys.Package2KeySource[0] ^= 1

	_, err := env.loader.Load()
	requireFatal(t, err, moncrypto.CodePackage2Signature)
}

func TestLoadPlaintextConfig(t *testing.T) {
	env := newTestEnv(t, false)
	env.loader.Plaintext = true
	env.stage(t, testOptions(nil, true))

	h, err := env.loader.Load()
	require.NoError(t, err)

	assert.True(t, h.Plaintext)
	env.requireLoaded(t, h)

	// an encrypted package cannot pass as plaintext
	env = newTestEnv(t, true)
	env.loader.Plaintext = true
	env.stage(t, testOptions(env.packageKey(t, 0), true))

	_, err = env.loader.Load()
	requireFatal(t, err, moncrypto.CodePackage2Header)
}

func TestLoadUnsignedConfig(t *testing.T) {
	env := newTestEnv(t, true)
	env.loader.Unsigned = true

	opts := testOptions(env.packageKey(t, 2), false)
	opts.Sign = func([]byte) ([]byte, error) {
		return bytes.Repeat([]byte{0x01, 0x02}, SignatureSize/2), nil
	}

	env.stage(t, opts)

	h, err := env.loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, h.Revision)
}

func TestLoadUnsignedConfigPlaintext(t *testing.T) {
	env := newTestEnv(t, true)
	env.loader.Unsigned = true

	opts := testOptions(nil, false)
	opts.Sections = append(opts.Sections, Section{Offset: 0x200000, Data: testINI})
	env.stage(t, opts)

	h, err := env.loader.Load()
	require.NoError(t, err)

	assert.False(t, h.Signed)
	assert.True(t, h.Plaintext)
	assert.Equal(t, -1, h.Revision)

	env.requireLoaded(t, h)

	third := make([]byte, len(testINI))
	require.NoError(t, env.memory.Read(DRAMBase+0x200000, third))
	assert.Equal(t, testINI, third)
}

func TestLoadFutureRevision(t *testing.T) {
	env := newTestEnv(t, true)
	env.stage(t, testOptions(env.packageKey(t, testRevision+1), true))

	_, err := env.loader.Load()
	requireFatal(t, err, moncrypto.CodePackage2Header)
}

func TestLoadHashMismatch(t *testing.T) {
	env := newTestEnv(t, true)
	raw := env.stage(t, testOptions(env.packageKey(t, 1), true))

	off := HeaderSize + len(testKernel) + 3
	require.NoError(t, env.memory.Write(StagingBase+uint64(off), []byte{raw[off] ^ 0x20}))

	_, err := env.loader.Load()
	requireFatal(t, err, moncrypto.CodePackage2Header)
}

func TestLoadUndetected(t *testing.T) {
	env := newTestEnv(t, false)
	env.stage(t, testOptions(env.packageKey(t, 0), true))

	_, err := env.loader.Load()
	requireFatal(t, err, moncrypto.CodeGeneric)
}

func TestLoadRelocated(t *testing.T) {
	env := newTestEnv(t, true)

	opts := testOptions(env.packageKey(t, 4), true)
	opts.Sections[1].Offset = StagingBase - DRAMBase + 0x200

	env.stage(t, opts)

	h, err := env.loader.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(StagingBase+SizeMax), h.Source)

	ini := make([]byte, len(testINI))
	require.NoError(t, env.memory.Read(StagingBase+0x200, ini))
	assert.Equal(t, testINI, ini)

	// staging, except for the materialized section, is wiped
	header := make([]byte, 0x200)
	require.NoError(t, env.memory.Read(StagingBase, header))
	assert.Equal(t, make([]byte, 0x200), header)

	window := make([]byte, HeaderSize+len(testKernel)+len(testINI))
	require.NoError(t, env.memory.Read(h.Source, window))
	assert.Equal(t, make([]byte, len(window)), window)
}

func TestLoadRecoveryHash(t *testing.T) {
	env := newTestEnv(t, true)
	env.loader.RecoveryBoot = true

	key := env.packageKey(t, 0)
	raw := env.stage(t, testOptions(key, true))

	h, err := env.loader.Load()
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	m, err := DecryptMetadata(block, raw[SignatureSize:HeaderSize])
	require.NoError(t, err)

	digest := sha256.New()
	digest.Write(m.Bytes())
	digest.Write(testKernel)
	digest.Write(testINI)

	assert.Equal(t, digest.Sum(nil), h.Hash)
}
