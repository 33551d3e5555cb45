// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package crypto

import (
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
)

// DeviceKeySlotFor returns the slot holding the device key for the requested
// master key revision. Revision 0 is the fused device key, later revisions
// are derived into the temporary slot.
func (ctx *Context) DeviceKeySlotFor(rev int) (slot engine.Slot, err error) {
	if !ctx.detected {
		return 0, Fatal(CodeGeneric, "master key revision not detected")
	}

	if rev < 0 || rev > ctx.revision {
		return 0, Fatal(CodeGeneric, "invalid device key revision %d", rev)
	}

	if rev == 0 {
		return engine.DEVICE_KEY, nil
	}

	if err = ctx.UnwrapKey(engine.TEMP_KEY, engine.DEVICE_KEY, ctx.keys.DeviceKeySources[rev][:]); err != nil {
		return
	}

	return engine.TEMP_KEY, nil
}
