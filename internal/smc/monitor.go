// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package smc implements the key management calls exposed by the monitor to
// the privileged dispatch layer. Each call is one operation, serialized on
// the key bank guard, and returns a Status.
package smc

import (
	"github.com/aead/cmac"

	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/package2"
)

const (
	// CMACMaxData is the largest input to ComputeCmac
	CMACMaxData = 0x400
	// ImportedKeys is the number of RSA private exponent import slots
	ImportedKeys = 2
)

// GenerateAesKek option bits
const (
	OptionPersonalized = 1 << 0
	optionUsecaseShift = 1
	optionUsecaseMask  = 0x7 << optionUsecaseShift
)

type asyncOp int

const (
	asyncNone asyncOp = iota
	asyncRsaOaep
	asyncExpMod
)

type pending struct {
	op asyncOp

	result    []byte
	labelHash []byte
	revision  int
	keyType   int
}

// Monitor represents the key management call surface.
type Monitor struct {
	// Guard serializes access to the key bank
	Guard *crypto.Guard
	// Reset is invoked with the diagnostic code of unrecoverable errors,
	// when nil such errors panic.
	Reset func(code uint32)

	// Handoff is the outcome of package2 loading
	Handoff *package2.Handoff
	// RecoveryBoot reports a recovery boot
	RecoveryBoot bool

	async    pending
	imported [ImportedKeys][]byte

	bootReason uint64
}

func (m *Monitor) acquire() (ctx *crypto.Context, release func(), s Status) {
	ctx, release, ok := m.Guard.TryAcquire()

	if !ok {
		return nil, nil, StatusBusy
	}

	return ctx, release, StatusSuccess
}

func validRevision(ctx *crypto.Context, rev int) bool {
	current, ok := ctx.Revision()
	return ok && rev >= 0 && rev <= current
}

func validUsecase(ctx *crypto.Context, u crypto.Usecase) bool {
	return u >= 0 && int(u) <= ctx.Target().MaxUsecase()
}

// GenerateAesKek derives a key encryption key from keySource through the
// master key (or the device key when personalized) at the given revision,
// and returns it sealed for the usecase selected by options.
func (m *Monitor) GenerateAesKek(keySource []byte, rev int, options uint32) (sealed []byte, s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	u := crypto.Usecase((options & optionUsecaseMask) >> optionUsecaseShift)

	if options&^(OptionPersonalized|optionUsecaseMask) != 0 || !validUsecase(ctx, u) ||
		!validRevision(ctx, rev) || len(keySource) != crypto.KeySize {
		return nil, StatusInvalidArgument
	}

	var slot engine.Slot
	var err error

	if options&OptionPersonalized != 0 {
		slot, err = ctx.DeviceKeySlotFor(rev)
	} else {
		slot, err = ctx.KeySlotFor(rev)
	}

	if err != nil {
		return nil, m.status("generate aes kek", err)
	}

	kek := make([]byte, crypto.KeySize)
	defer zero(kek)

	if err = ctx.DecryptBlock(slot, kek, keySource); err != nil {
		return nil, m.status("generate aes kek", err)
	}

	sealed, err = ctx.Seal(u, kek)

	return sealed, m.status("generate aes kek", err)
}

// LoadAesKey unseals a key encryption key and loads the key it wraps in a
// user key slot.
func (m *Monitor) LoadAesKey(index int, sealedKek []byte, wrappedKey []byte) (s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	slot, ok := engine.UserSlot(index)

	if !ok {
		return StatusInvalidArgument
	}

	if err := ctx.Unseal(crypto.UsecaseAES, sealedKek, engine.TEMP_KEY); err != nil {
		return m.status("load aes key", err)
	}

	return m.status("load aes key", ctx.UnwrapKey(slot, engine.TEMP_KEY, wrappedKey))
}

// GenerateSpecificAesKey derives a key from keySource through the master key
// (or the device key when deviceUnique) at the given revision.
func (m *Monitor) GenerateSpecificAesKey(keySource []byte, rev int, deviceUnique bool) (key []byte, s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	if !validRevision(ctx, rev) || len(keySource) != crypto.KeySize {
		return nil, StatusInvalidArgument
	}

	var slot engine.Slot
	var err error

	if deviceUnique {
		slot, err = ctx.DeviceKeySlotFor(rev)
	} else {
		slot, err = ctx.KeySlotFor(rev)
	}

	if err != nil {
		return nil, m.status("generate specific aes key", err)
	}

	key = make([]byte, crypto.KeySize)

	if err = ctx.DecryptBlock(slot, key, keySource); err != nil {
		return nil, m.status("generate specific aes key", err)
	}

	return
}

// ComputeCmac computes the AES-CMAC of data with a user key slot.
func (m *Monitor) ComputeCmac(index int, data []byte) (mac []byte, s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	slot, ok := engine.UserSlot(index)

	if !ok || len(data) > CMACMaxData || !ctx.Loaded(slot) {
		return nil, StatusInvalidArgument
	}

	block, err := ctx.Block(slot)

	if err != nil {
		return nil, m.status("compute cmac", err)
	}

	h, err := cmac.New(block)

	if err != nil {
		return nil, m.status("compute cmac", err)
	}

	h.Write(data)

	return h.Sum(nil), StatusSuccess
}

// UnwrapAesWrappedTitleKey decrypts an AES wrapped title key with the title
// key encryption key of the given type and revision, and returns it sealed.
func (m *Monitor) UnwrapAesWrappedTitleKey(wrapped []byte, rev int, keyType int) (sealed []byte, s Status) {
	ctx, release, s := m.acquire()

	if s != StatusSuccess {
		return
	}
	defer release()

	if !validRevision(ctx, rev) {
		return nil, StatusInvalidArgument
	}

	titleKey, err := ctx.AesUnwrap(rev, keyType, wrapped)

	if err != nil {
		return nil, m.status("unwrap aes wrapped title key", err)
	}
	defer zero(titleKey)

	sealed, err = ctx.SealTitleKey(titleKey)

	return sealed, m.status("unwrap aes wrapped title key", err)
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
