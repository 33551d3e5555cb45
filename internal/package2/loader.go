// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package package2

import (
	"crypto/sha256"
	"io"

	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
	"github.com/f-secure-foundry/armory-monitor/internal/mem"
)

// Default physical layout
const (
	StagingBase = 0xa9800000
	DRAMBase    = 0x80000000
)

// Config represents the boot configuration relevant to package2 loading.
type Config struct {
	// physical address of the package delivered by the previous stage
	StagingBase uint64
	// physical address section offsets are relative to
	DRAMBase uint64

	// package is stored in clear, implies Unsigned
	Plaintext bool
	// skip signature verification
	Unsigned bool
	// snapshot the decrypted package hash
	RecoveryBoot bool

	Policy Policy
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{
		StagingBase: StagingBase,
		DRAMBase:    DRAMBase,
		Policy:      DefaultPolicy(),
	}
}

// Handoff represents the outcome of a successful load.
type Handoff struct {
	// physical address of the next stage entrypoint
	Entrypoint uint64
	// master key revision the header was decrypted with, -1 when stored
	// in clear
	Revision int
	// signature verified
	Signed bool
	// package stored in clear
	Plaintext bool
	// address the sections were materialized from
	Source uint64
	// SHA-256 of the decrypted package, only on recovery boots
	Hash []byte
}

// Loader authenticates, decrypts and places the staged package2 image.
type Loader struct {
	Config

	Memory mem.Memory
	Guard  *crypto.Guard
}

func memoryError(err error) error {
	return crypto.Fatal(crypto.CodeGeneric, "memory access failed, %v", err)
}

func uniform(buf []byte) bool {
	for _, b := range buf {
		if b != buf[0] {
			return false
		}
	}

	return true
}

// hasher returns a SectionHasher over the staged sections, digests are
// computed once per range.
func (l *Loader) hasher(e engine.Engine) SectionHasher {
	type span struct{ off, size uint32 }
	cache := make(map[span][HashSize]byte)

	return func(_ int, off uint32, size uint32) (sum [HashSize]byte, err error) {
		if sum, ok := cache[span{off, size}]; ok {
			return sum, nil
		}

		buf := make([]byte, size)

		if err = l.Memory.Read(l.StagingBase+HeaderSize+uint64(off), buf); err != nil {
			return sum, memoryError(err)
		}

		sum = e.Sum256(buf)
		cache[span{off, size}] = sum

		return
	}
}

func (l *Loader) deriveKey(ctx *crypto.Context, rev int) (err error) {
	slot, err := ctx.KeySlotFor(rev)

	if err != nil {
		return
	}

	defer ctx.ClearKey(engine.TEMP_KEY)

	return ctx.UnwrapKey(engine.PACKAGE2_KEY, slot, ctx.Keys().Package2KeySource[:])
}

// decryptHeader tries each master key revision, up to the detected one, for
// metadata passing check.
func (l *Loader) decryptHeader(ctx *crypto.Context, raw []byte, check func(*Metadata) error) (m *Metadata, rev int, err error) {
	current, ok := ctx.Revision()

	if !ok {
		return nil, 0, crypto.Fatal(crypto.CodeGeneric, "master key revision not detected")
	}

	buf := make([]byte, MetadataSize)

	for rev = 0; rev <= current; rev++ {
		if err = l.deriveKey(ctx, rev); err != nil {
			return
		}

		if err = ctx.CryptCTR(engine.PACKAGE2_KEY, buf, raw, raw[:CTRSize]); err != nil {
			return
		}

		copy(buf, raw[:CTRSize])

		if m, err = ParseMetadata(buf); err != nil {
			return
		}

		if check(m) == nil {
			return m, rev, nil
		}

		logger.Log.Debugw("package2 header rejected", "revision", rev)
	}

	if err = ctx.ClearKey(engine.PACKAGE2_KEY); err != nil {
		return
	}

	return nil, 0, crypto.Fatal(crypto.CodePackage2Header, "unable to decrypt package2 header")
}

// Load verifies the staged package2 and materializes its sections. Any
// failure is fatal.
func (l *Loader) Load() (h *Handoff, err error) {
	ctx, release := l.Guard.Acquire()
	defer release()

	raw := make([]byte, HeaderSize)

	if err = l.Memory.Read(l.StagingBase, raw); err != nil {
		return nil, memoryError(err)
	}

	src := l.StagingBase

	defer func() {
		if e := l.Memory.Zero(src, SizeMax); e != nil && err == nil {
			err = memoryError(e)
		}

		l.Memory.Flush()
	}()

	sig := raw[:SignatureSize]
	meta := raw[SignatureSize:]

	h = &Handoff{
		Revision:  -1,
		Plaintext: l.Plaintext,
	}

	unsigned := l.Unsigned || l.Plaintext

	if !l.Plaintext && uniform(sig) {
		magic := func(m *Metadata) error {
			if m.Magic != Magic {
				return ErrInvalidMetadata
			}
			return nil
		}

		if m, _ := ParseMetadata(meta); magic(m) == nil {
			logger.Log.Infow("package2 is unsigned and stored in clear")
			unsigned = true
			h.Plaintext = true
		} else if !unsigned {
			_, _, e := l.decryptHeader(ctx, meta, magic)

			switch code, fatal := crypto.IsFatal(e); {
			case e == nil:
				logger.Log.Infow("package2 is unsigned")
				unsigned = true
			case fatal && code != crypto.CodePackage2Header:
				return nil, e
			}
		}
	}

	if !unsigned {
		modulus := ctx.Keys().DevModulus[:]

		if ctx.Device().IsRetail() {
			modulus = ctx.Keys().RetailModulus[:]
		}

		if !ctx.Engine().VerifyPSS(sig, modulus, meta) {
			return nil, crypto.Fatal(crypto.CodePackage2Signature, "invalid package2 signature")
		}

		h.Signed = true
		logger.Log.Infow("package2 signature verified")
	}

	var m *Metadata

	hash := l.hasher(ctx.Engine())

	check := func(m *Metadata) error {
		return l.Policy.Validate(m, hash)
	}

	if h.Plaintext {
		if m, err = ParseMetadata(meta); err != nil {
			return nil, crypto.Fatal(crypto.CodePackage2Header, "%v", err)
		}

		if err = check(m); err != nil {
			return nil, crypto.Fatal(crypto.CodePackage2Header, "%v", err)
		}
	} else {
		if m, h.Revision, err = l.decryptHeader(ctx, meta, check); err != nil {
			return nil, err
		}

		logger.Log.Infow("package2 header decrypted", "revision", h.Revision)
	}

	defer ctx.ClearKey(engine.PACKAGE2_KEY)

	size := int(m.Size())
	window, relocate, err := FindRelocation(m, l.StagingBase, l.DRAMBase)

	if err != nil {
		return nil, err
	}

	if relocate {
		if err = mem.Copy(l.Memory, window, l.StagingBase, size); err != nil {
			return nil, memoryError(err)
		}

		if err = l.Memory.Zero(l.StagingBase, SizeMax); err != nil {
			return nil, memoryError(err)
		}

		src = window
		logger.Log.Infow("package2 relocated", "window", window)
	}

	h.Source = src

	if err = l.materialize(ctx, m, src, h.Plaintext); err != nil {
		return
	}

	if l.RecoveryBoot {
		if h.Hash, err = l.digest(m); err != nil {
			return
		}
	}

	h.Entrypoint = l.DRAMBase + uint64(m.Entrypoint)
	logger.Log.Infow("package2 loaded", "entrypoint", h.Entrypoint)

	return
}

func (l *Loader) materialize(ctx *crypto.Context, m *Metadata, src uint64, plaintext bool) (err error) {
	off := uint64(HeaderSize)

	for i := 0; i < ActiveSections; i++ {
		size := m.SectionSizes[i]

		if size == 0 {
			continue
		}

		dst := l.DRAMBase + uint64(m.SectionOffsets[i])
		buf := make([]byte, size)

		if err = l.Memory.Read(src+off, buf); err != nil {
			return memoryError(err)
		}

		if !plaintext {
			if err = ctx.CryptCTR(engine.PACKAGE2_KEY, buf, buf, m.SectionCTRs[i][:]); err != nil {
				return
			}
		}

		if err = l.Memory.Write(dst, buf); err != nil {
			return memoryError(err)
		}

		logger.Log.Debugw("package2 section loaded", "index", i, "size", size, "address", dst)

		off += uint64(size)
	}

	return
}

// digest hashes the decrypted metadata followed by the materialized
// sections.
func (l *Loader) digest(m *Metadata) ([]byte, error) {
	h := sha256.New()
	h.Write(m.Bytes())

	for i := 0; i < ActiveSections; i++ {
		r := mem.NewReader(l.Memory, l.DRAMBase+uint64(m.SectionOffsets[i]), int64(m.SectionSizes[i]))

		if _, err := io.Copy(h, r); err != nil {
			return nil, memoryError(err)
		}
	}

	return h.Sum(nil), nil
}
