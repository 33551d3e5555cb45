// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"errors"

	"github.com/f-secure-foundry/armory-monitor/assets"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
)

func (ctx *Context) checkVectors() []assets.Block {
	if ctx.device.IsRetail() {
		return ctx.keys.RetailVectors[:]
	}

	return ctx.keys.DevVectors[:]
}

// DetectRevision identifies the master key revision of the hardware resident
// master key, by walking the check vectors down to revision 0 for each
// candidate. Detection happens once, failing to detect any revision or
// detecting twice is fatal.
func (ctx *Context) DetectRevision() (rev int, err error) {
	if ctx.detected {
		return 0, Fatal(CodeGeneric, "master key revision already detected")
	}

	vectors := ctx.checkVectors()
	defer ctx.clearTemp()

	buf := make([]byte, KeySize)
	defer zero(buf)

	for rev = 0; rev < firmware.MasterKeyRevisionMax; rev++ {
		src := engine.MASTER_KEY

		for i := rev; i > 0; i-- {
			if err = ctx.UnwrapKey(engine.TEMP_KEY, src, vectors[i][:]); err != nil {
				return
			}

			src = engine.TEMP_KEY
		}

		if err = ctx.DecryptBlock(src, buf, vectors[0][:]); err != nil {
			return
		}

		if equal(buf, make([]byte, KeySize)) {
			ctx.revision = rev
			ctx.detected = true
			return
		}
	}

	return 0, Fatal(CodeMasterKey, "unable to detect master key revision")
}

// Revision returns the detected master key revision.
func (ctx *Context) Revision() (rev int, ok bool) {
	return ctx.revision, ctx.detected
}

// KeySlotFor returns the slot holding the master key for the requested
// revision, older revisions are derived into the temporary slot which the
// caller must not hold across other key operations. Requesting a revision
// newer than the detected one is fatal.
func (ctx *Context) KeySlotFor(rev int) (slot engine.Slot, err error) {
	if !ctx.detected {
		return 0, Fatal(CodeGeneric, "master key revision not detected")
	}

	if rev < 0 || rev > ctx.revision {
		return 0, Fatal(CodeGeneric, "invalid master key revision %d", rev)
	}

	if rev == ctx.revision {
		return engine.MASTER_KEY, nil
	}

	vectors := ctx.checkVectors()
	slot = engine.MASTER_KEY

	for i := ctx.revision; i > rev; i-- {
		if err = ctx.UnwrapKey(engine.TEMP_KEY, slot, vectors[i][:]); err != nil {
			return
		}

		slot = engine.TEMP_KEY
	}

	return
}

// CheckVectors computes the check vector table for a chain of master keys,
// ordered from revision 0, for key provisioning. Entries beyond the last key
// are filled with random blocks by the caller.
func CheckVectors(masterKeys [][]byte) (vectors []assets.Block, err error) {
	if len(masterKeys) == 0 || len(masterKeys) > firmware.MasterKeyRevisionMax {
		return nil, errors.New("invalid master key count")
	}

	for i, key := range masterKeys {
		var v assets.Block

		block, err := aes.NewCipher(key)

		if err != nil {
			return nil, err
		}

		if i == 0 {
			block.Encrypt(v[:], make([]byte, KeySize))
		} else {
			block.Encrypt(v[:], masterKeys[i-1])
		}

		vectors = append(vectors, v)
	}

	return
}
