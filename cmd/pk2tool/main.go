// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// pk2tool packs, inspects and verifies package2 images against an emulated
// monitor key hierarchy.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/f-secure-foundry/armory-monitor/internal/config"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
)

type app struct {
	cfgFile string
	debug   bool

	conf *config.BootConfig
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "pk2tool",
		Short: "package2 image tool",
		Long: `pk2tool builds and inspects package2 images and verifies them by
running the monitor boot sequence on an emulated device.

Emulated devices are described by the monitor configuration (device seed,
identity, target firmware, keys directory), see armory-monitor.yaml.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			if err = disableCoreDumps(); err != nil {
				return fmt.Errorf("could not disable core dumps, %w", err)
			}

			if a.conf, err = config.Load(a.cfgFile); err != nil {
				return
			}

			if cmd.Flags().Changed("debug") {
				a.conf.Log.Debug = a.debug
			}

			return logger.Init(a.conf.Logger())
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is search in standard locations)")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		a.keygenCmd(),
		a.packCmd(),
		a.inspectCmd(),
		a.verifyCmd(),
	)

	return cmd
}

func main() {
	defer logger.Sync()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
