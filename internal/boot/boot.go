// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package boot implements the monitor boot sequence, from key hierarchy
// bring up to package2 handoff.
package boot

import (
	"fmt"

	"github.com/f-secure-foundry/armory-monitor/assets"
	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
	"github.com/f-secure-foundry/armory-monitor/internal/mem"
	"github.com/f-secure-foundry/armory-monitor/internal/package2"
	"github.com/f-secure-foundry/armory-monitor/internal/smc"
)

// Platform represents the hardware, or emulated, collaborators of the
// monitor.
type Platform struct {
	Engine engine.Engine
	Device engine.Device
	Keys   *assets.Keys
	Memory mem.Memory

	// Reset is invoked by monitor calls on unrecoverable errors
	Reset func(code uint32)
}

// Options represents the boot parameters.
type Options struct {
	// firmware revision tag, used when the device does not report one
	TargetFirmware string
	// recovery boots expose the package2 hash
	RecoveryBoot bool

	Package2 package2.Config
}

// Boot brings up the key hierarchy and loads the staged package2 image,
// returning the monitor call surface. Returned errors for which
// crypto.IsFatal holds must result in a reset with the reported code.
func Boot(opts *Options, p *Platform) (m *smc.Monitor, err error) {
	tag := p.Device.Revision()

	if tag == "" {
		tag = opts.TargetFirmware
	}

	target, err := firmware.Parse(tag)

	if err != nil {
		return
	}

	ctx, err := crypto.NewContext(crypto.Config{
		Engine: p.Engine,
		Device: p.Device,
		Keys:   p.Keys,
		Target: target,
	})

	if err != nil {
		return
	}

	rev, err := ctx.DetectRevision()

	if err != nil {
		return
	}

	logger.Log.Infow("master key revision detected",
		"revision", rev,
		"target", target.String(),
		"retail", p.Device.IsRetail())

	if top := target.MasterKeyRevision(); rev > top {
		logger.Log.Warnw("master key revision newer than target", "revision", rev, "target", top)
	}

	if err = ctx.InitSession(); err != nil {
		return
	}

	guard := crypto.NewGuard(ctx)

	loader := &package2.Loader{
		Config: opts.Package2,
		Memory: p.Memory,
		Guard:  guard,
	}

	h, err := loader.Load()

	if err != nil {
		return
	}

	m = &smc.Monitor{
		Guard:        guard,
		Reset:        p.Reset,
		Handoff:      h,
		RecoveryBoot: opts.RecoveryBoot,
	}

	return
}

// Stage places a raw package2 image at the staging address, as done by the
// previous boot stage.
func Stage(m mem.Memory, stagingBase uint64, raw []byte) error {
	if len(raw) > package2.SizeMax {
		return fmt.Errorf("image exceeds %#x bytes", package2.SizeMax)
	}

	return m.Write(stagingBase, raw)
}
