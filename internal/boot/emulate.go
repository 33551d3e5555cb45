// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !tamago
// +build !tamago

package boot

import (
	"errors"
	"fmt"

	"github.com/f-secure-foundry/armory-monitor/assets"
	"github.com/f-secure-foundry/armory-monitor/internal/config"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/mem"
)

// FromConfig returns the boot parameters of a configuration.
func FromConfig(conf *config.BootConfig) *Options {
	return &Options{
		TargetFirmware: conf.TargetFirmware,
		RecoveryBoot:   conf.RecoveryBoot,
		Package2:       conf.Package2(),
	}
}

func newEngine(conf *config.BootConfig) (*engine.Soft, error) {
	if conf.Engine == config.EngineKernel {
		return engine.NewSoftFromKernel(conf.KernelAlg, conf.KernelKeyBytes())
	}

	seed, err := conf.Seed()

	if err != nil {
		return nil, err
	}

	if len(seed) == 0 {
		return nil, errors.New("emulation requires a device seed")
	}

	return engine.NewSoftFromSeed(seed)
}

// Emulated returns a host platform with a software engine and sparse
// memory, its device identity and keys are taken from the configuration.
//
// The engine root keys are expanded from the device seed, or derived through
// the kernel crypto API to tie them to the running unit.
func Emulated(conf *config.BootConfig) (p *Platform, memory *mem.Emulated, err error) {
	var keys *assets.Keys

	soft, err := newEngine(conf)

	if err != nil {
		return
	}

	if conf.KeysDir != "" {
		keys, err = assets.LoadKeys(conf.KeysDir)
	} else {
		keys, err = assets.Embedded()
	}

	if err != nil {
		return nil, nil, fmt.Errorf("could not load keys, %w", err)
	}

	memory = mem.NewEmulated()

	p = &Platform{
		Engine: soft,
		Device: &engine.StaticDevice{
			ID:       conf.DeviceID,
			Retail:   conf.Retail,
			Firmware: conf.TargetFirmware,
		},
		Keys:   keys,
		Memory: memory,
	}

	return
}
