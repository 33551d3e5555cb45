// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/f-secure-foundry/armory-monitor/internal/boot"
	"github.com/f-secure-foundry/armory-monitor/internal/firmware"
	"github.com/f-secure-foundry/armory-monitor/internal/package2"
)

// parseSection parses an offset:path section argument.
func parseSection(arg string) (s package2.Section, err error) {
	i := strings.IndexByte(arg, ':')

	if i <= 0 {
		return s, fmt.Errorf("invalid section %q, expected offset:path", arg)
	}

	off, err := strconv.ParseUint(arg[:i], 0, 32)

	if err != nil {
		return s, fmt.Errorf("invalid section offset, %w", err)
	}

	s.Offset = uint32(off)
	s.Data, err = os.ReadFile(arg[i+1:])

	return
}

func (a *app) packCmd() *cobra.Command {
	var (
		seed          string
		dir           string
		signerPath    string
		out           string
		sections      []string
		revision      int
		entrypoint    uint32
		headerVersion uint8
		versionMin    uint8
		versionMax    uint8
	)

	cmd := &cobra.Command{
		Use:   "pack",
		Short: "build a package2 image",
		Long: `pack builds a package2 image from up to three sections, each given as
load offset (relative to the DRAM base) and payload file.

Images are encrypted with the package2 key of the selected master key
revision, or stored in clear when the revision is negative, and are signed
only when a signing key is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			opts := &package2.Options{
				Entrypoint:    entrypoint,
				HeaderVersion: headerVersion,
				VersionMin:    versionMin,
				VersionMax:    versionMax,
			}

			for _, arg := range sections {
				s, err := parseSection(arg)

				if err != nil {
					return err
				}

				opts.Sections = append(opts.Sections, s)
			}

			if revision >= 0 {
				s, err := a.seed(seed)

				if err != nil {
					return err
				}

				if dir, err = a.keysDir(dir); err != nil {
					return err
				}

				p, err := boot.LoadProvisioning(dir, s)

				if err != nil {
					return err
				}

				if opts.Key, err = p.PackageKey(revision); err != nil {
					return err
				}
			}

			if signerPath != "" {
				key, err := loadSigner(signerPath)

				if err != nil {
					return err
				}

				opts.Sign = signPSS(key)
			}

			raw, err := package2.Build(opts)

			if err != nil {
				return
			}

			if err = os.WriteFile(out, raw, 0600); err != nil {
				return
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes, %d sections, revision %d, signed:%v\n",
				out, len(raw), len(opts.Sections), revision, opts.Sign != nil)

			return
		},
	}

	cmd.Flags().StringVar(&seed, "seed", "", "device seed (hex, default from config)")
	cmd.Flags().StringVarP(&dir, "keys", "k", "", "keys directory (default from config)")
	cmd.Flags().StringVarP(&signerPath, "signer", "s", "", "package2 signing key in PEM format")
	cmd.Flags().StringVarP(&out, "out", "o", "package2.bin", "output file")
	cmd.Flags().StringArrayVar(&sections, "section", nil, "section as offset:path (repeatable)")
	cmd.Flags().IntVarP(&revision, "revision", "r", 0, "master key revision of the package2 key, negative for plaintext")
	cmd.Flags().Uint32VarP(&entrypoint, "entrypoint", "e", 0, "entrypoint offset from the DRAM base")
	cmd.Flags().Uint8Var(&headerVersion, "header-version", 0, "header version")
	cmd.Flags().Uint8Var(&versionMin, "version-min", 0, "minimum compatible format version")
	cmd.Flags().Uint8Var(&versionMax, "version-max", firmware.Package2Version, "maximum compatible format version")

	cmd.MarkFlagRequired("section")

	return cmd
}
