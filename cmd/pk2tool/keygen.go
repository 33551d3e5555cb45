// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/f-secure-foundry/armory-monitor/internal/boot"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
)

func (a *app) keygenCmd() *cobra.Command {
	var (
		seed       string
		dir        string
		signerPath string
		revision   int
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "provision the key hierarchy of an emulated device",
		Long: `keygen writes the key constants of an emulated device, whose hardware
resident keys are expanded from the device seed, to the keys directory.

The signing key is created when missing, its modulus is provisioned for
package2 signature verification.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := a.seed(seed)

			if err != nil {
				return
			}

			if dir, err = a.keysDir(dir); err != nil {
				return
			}

			var mod []byte

			if signerPath != "" {
				key, created, err := signer(signerPath)

				if err != nil {
					return err
				}

				if created {
					logger.Log.Infow("signing key created", "path", signerPath)
				}

				mod = modulus(key)
			}

			p, err := boot.Provision(s, revision, a.conf.Retail, mod, nil)

			if err != nil {
				return
			}

			if err = p.Save(dir); err != nil {
				return
			}

			fmt.Fprintf(cmd.OutOrStdout(), "provisioned master key revision %d (retail:%v) in %s\n", revision, a.conf.Retail, dir)

			return
		},
	}

	cmd.Flags().StringVar(&seed, "seed", "", "device seed (hex, default from config)")
	cmd.Flags().StringVarP(&dir, "keys", "k", "", "keys directory (default from config)")
	cmd.Flags().StringVarP(&signerPath, "signer", "s", "", "package2 signing key in PEM format, created when missing")
	cmd.Flags().IntVarP(&revision, "revision", "r", 0, "master key revision of the device")

	return cmd
}
