// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm
// +build tamago,arm

package main

import (
	"fmt"

	"github.com/f-secure-foundry/tamago/arm"
	"github.com/f-secure-foundry/tamago/soc/imx6"

	"github.com/f-secure-foundry/armory-monitor/assets"
	"github.com/f-secure-foundry/armory-monitor/internal/boot"
	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/engine"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
	"github.com/f-secure-foundry/armory-monitor/internal/package2"
	"github.com/f-secure-foundry/armory-monitor/internal/smc"
)

// defined in exec_arm.s
func exec(entrypoint uint32)
func svc()

// monitor call surface, serving the next stage once started
var monitor *smc.Monitor

func init() {
	if err := imx6.SetARMFreq(900); err != nil {
		panic(fmt.Sprintf("WARNING: error setting ARM frequency: %v\n", err))
	}
}

func reset(code uint32) {
	logger.Log.Errorw("reset", "code", fmt.Sprintf("%#08x", code))
	logger.Sync()

	imx6.Reboot()
}

func fatal(err error) {
	code, ok := crypto.IsFatal(err)

	if !ok {
		code = crypto.CodeGeneric
	}

	logger.Log.Errorw("boot failed", "error", err)
	reset(code)
}

func main() {
	logger.Log.Infow("armory-monitor", "build", Build, "revision", Revision, "keys", assets.Revision)

	keys, err := assets.Embedded()

	if err != nil {
		fatal(err)
	}

	dcp, err := engine.NewDCP()

	if err != nil {
		fatal(err)
	}

	fuses, err := engine.NewFuses(Target)

	if err != nil {
		fatal(crypto.Fatal(crypto.CodeGeneric, "%v", err))
	}

	opts := &boot.Options{
		TargetFirmware: Target,
		Package2:       package2.DefaultConfig(),
	}

	opts.Package2.StagingBase = stagingBase
	opts.Package2.DRAMBase = dramBase

	platform := &boot.Platform{
		Engine: dcp,
		Device: fuses,
		Keys:   keys,
		Memory: physical(),
		Reset:  reset,
	}

	if monitor, err = boot.Boot(opts, platform); err != nil {
		fatal(err)
	}

	entrypoint := uint32(monitor.Handoff.Entrypoint)

	arm.ExceptionHandler(func(n int) {
		if n != arm.SUPERVISOR {
			panic("unhandled exception")
		}

		logger.Log.Infow("starting package2", "entrypoint", fmt.Sprintf("%#x", entrypoint))
		logger.Sync()

		imx6.ARM.InterruptsDisable()
		imx6.ARM.CacheFlushData()
		imx6.ARM.CacheDisable()

		exec(entrypoint)
	})

	svc()
}
