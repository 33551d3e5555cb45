// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package crypto implements the monitor key hierarchy: master key revision
// detection, device keys, key sealing, the personalized key blob codec and
// title key unwrapping.
package crypto

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/f-secure-foundry/armory-monitor/assets"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
)

// KeySize is the size of all symmetric keys and sealed values.
const KeySize = engine.KeySize

// Config represents the collaborators of a crypto context.
type Config struct {
	// security engine, with master and device keys loaded
	Engine engine.Engine
	// device identity
	Device engine.Device
	// key hierarchy constants
	Keys *assets.Keys
	// firmware release served by the monitor
	Target firmware.Target
}

// Context represents the exclusive owner of the engine key bank. A Context
// is obtained from a Guard and must not be retained past its release.
type Context struct {
	engine engine.Engine
	device engine.Device
	keys   *assets.Keys
	target firmware.Target

	// key slots holding key material
	loaded [engine.SLOT_COUNT]bool

	revision int
	detected bool
}

// NewContext returns a crypto context, the engine must have its hardware
// resident master and device keys loaded.
func NewContext(conf Config) (ctx *Context, err error) {
	if conf.Engine == nil || conf.Device == nil || conf.Keys == nil {
		return nil, errors.New("incomplete crypto configuration")
	}

	if conf.Target.String() == "" {
		return nil, errors.New("missing firmware target")
	}

	ctx = &Context{
		engine: conf.Engine,
		device: conf.Device,
		keys:   conf.Keys,
		target: conf.Target,
	}

	ctx.loaded[engine.MASTER_KEY] = true
	ctx.loaded[engine.DEVICE_KEY] = true

	return
}

// Engine returns the underlying security engine.
func (ctx *Context) Engine() engine.Engine {
	return ctx.engine
}

// Device returns the device identity.
func (ctx *Context) Device() engine.Device {
	return ctx.device
}

// Keys returns the key hierarchy constants.
func (ctx *Context) Keys() *assets.Keys {
	return ctx.keys
}

// Target returns the served firmware release.
func (ctx *Context) Target() firmware.Target {
	return ctx.target
}

// Loaded returns whether a key slot holds key material.
func (ctx *Context) Loaded(slot engine.Slot) bool {
	return slot.Valid() && ctx.loaded[slot]
}

func (ctx *Context) use(slot engine.Slot) error {
	if !ctx.Loaded(slot) {
		return Fatal(CodeGeneric, "use of empty key slot %s", slot)
	}

	return nil
}

func engineError(op string, err error) error {
	return Fatal(CodeGeneric, "engine %s failed, %v", op, err)
}

// SetKey loads raw key material into a slot.
func (ctx *Context) SetKey(slot engine.Slot, key []byte) (err error) {
	if err = ctx.engine.SetKey(slot, key); err != nil {
		return engineError("set key", err)
	}

	ctx.loaded[slot] = true

	return
}

// UnwrapKey decrypts a wrapped key with the key held in src and loads the
// result in dst.
func (ctx *Context) UnwrapKey(dst engine.Slot, src engine.Slot, wrapped []byte) (err error) {
	if len(wrapped) != KeySize {
		return ErrInvalidArgument
	}

	if err = ctx.use(src); err != nil {
		return
	}

	if err = ctx.engine.UnwrapKey(dst, src, wrapped); err != nil {
		return engineError("unwrap", err)
	}

	ctx.loaded[dst] = true

	return
}

// GenerateKey loads a random key in a slot.
func (ctx *Context) GenerateKey(slot engine.Slot) (err error) {
	if err = ctx.engine.GenerateKey(slot); err != nil {
		return engineError("key generation", err)
	}

	ctx.loaded[slot] = true

	return
}

// ClearKey wipes a slot, hardware resident slots are never cleared.
func (ctx *Context) ClearKey(slot engine.Slot) (err error) {
	if slot == engine.MASTER_KEY || slot == engine.DEVICE_KEY {
		return Fatal(CodeGeneric, "attempt to clear %s key", slot)
	}

	if err = ctx.engine.ClearKey(slot); err != nil {
		return engineError("clear", err)
	}

	ctx.loaded[slot] = false

	return
}

func (ctx *Context) clearTemp() {
	if ctx.loaded[engine.TEMP_KEY] {
		_ = ctx.ClearKey(engine.TEMP_KEY)
	}
}

// EncryptBlock performs single block AES-ECB encryption.
func (ctx *Context) EncryptBlock(slot engine.Slot, dst []byte, src []byte) (err error) {
	if err = ctx.use(slot); err != nil {
		return
	}

	if err = ctx.engine.EncryptBlock(slot, dst, src); err != nil {
		return engineError("encrypt", err)
	}

	return
}

// DecryptBlock performs single block AES-ECB decryption.
func (ctx *Context) DecryptBlock(slot engine.Slot, dst []byte, src []byte) (err error) {
	if err = ctx.use(slot); err != nil {
		return
	}

	if err = ctx.engine.DecryptBlock(slot, dst, src); err != nil {
		return engineError("decrypt", err)
	}

	return
}

// CryptCTR performs AES-CTR encryption or decryption.
func (ctx *Context) CryptCTR(slot engine.Slot, dst []byte, src []byte, ctr []byte) (err error) {
	if err = ctx.use(slot); err != nil {
		return
	}

	if err = ctx.engine.CryptCTR(slot, dst, src, ctr); err != nil {
		return engineError("ctr", err)
	}

	return
}

// Block returns a cipher.Block over a loaded slot.
func (ctx *Context) Block(slot engine.Slot) (b *SlotBlock, err error) {
	if err = ctx.use(slot); err != nil {
		return
	}

	return &SlotBlock{ctx: ctx, slot: slot}, nil
}

// SlotBlock is a cipher.Block over a loaded key slot.
type SlotBlock struct {
	ctx  *Context
	slot engine.Slot
}

func (b *SlotBlock) BlockSize() int {
	return KeySize
}

func (b *SlotBlock) Encrypt(dst []byte, src []byte) {
	engine.NewSlotCipher(b.ctx.engine, b.slot).Encrypt(dst, src)
}

func (b *SlotBlock) Decrypt(dst []byte, src []byte) {
	engine.NewSlotCipher(b.ctx.engine, b.slot).Decrypt(dst, src)
}

// Guard serializes access to the key bank, acquiring it yields the crypto
// context.
type Guard struct {
	mu  sync.Mutex
	ctx *Context
}

// NewGuard returns a guard owning ctx.
func NewGuard(ctx *Context) *Guard {
	return &Guard{ctx: ctx}
}

// Acquire blocks until the context is available, the returned function
// releases it.
func (g *Guard) Acquire() (ctx *Context, release func()) {
	g.mu.Lock()
	return g.ctx, g.release
}

// TryAcquire is like Acquire but fails immediately if the context is in use.
func (g *Guard) TryAcquire() (ctx *Context, release func(), ok bool) {
	if !g.mu.TryLock() {
		return
	}

	return g.ctx, g.release, true
}

func (g *Guard) release() {
	g.ctx.clearTemp()
	g.mu.Unlock()
}

func equal(a []byte, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
