// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/f-secure-foundry/armory-monitor/internal/boot"
	"github.com/f-secure-foundry/armory-monitor/internal/package2"
)

// decoded represents an image with its metadata in clear.
type decoded struct {
	img      *package2.Image
	meta     *package2.Metadata
	block    cipher.Block
	revision int
}

// decode parses an image, trying every provisioned master key revision on
// encrypted metadata, p may be nil for plaintext images.
func decode(raw []byte, p *boot.Provisioning) (d *decoded, err error) {
	d = &decoded{revision: -1}

	if d.img, err = package2.Split(raw, nil); err != nil {
		return
	}

	if d.meta, err = package2.ParseMetadata(d.img.Metadata); err != nil {
		return
	}

	if d.meta.Magic != package2.Magic {
		if p == nil {
			return nil, errors.New("encrypted metadata, keys required")
		}

		d.meta = nil

		for rev := range p.MasterKeys {
			key, err := p.PackageKey(rev)

			if err != nil {
				return nil, err
			}

			block, err := aes.NewCipher(key)

			if err != nil {
				return nil, err
			}

			if m, err := package2.DecryptMetadata(block, d.img.Metadata); err == nil && m.Magic == package2.Magic {
				d.meta = m
				d.block = block
				d.revision = rev
				break
			}
		}

		if d.meta == nil {
			return nil, errors.New("metadata does not decrypt with any master key revision")
		}
	}

	if d.img, err = package2.Split(raw, d.meta); err != nil {
		return
	}

	return
}

// section returns the payload of a section in clear.
func (d *decoded) section(i int) []byte {
	buf := d.img.Sections[i]

	if d.block == nil {
		return buf
	}

	out := make([]byte, len(buf))
	cipher.NewCTR(d.block, d.meta.SectionCTRs[i][:]).XORKeyStream(out, buf)

	return out
}

func (d *decoded) hasher(index int, _ uint32, _ uint32) ([package2.HashSize]byte, error) {
	return sha256.Sum256(d.section(index)), nil
}

func (d *decoded) print(w io.Writer) {
	m := d.meta

	if d.revision < 0 {
		fmt.Fprintf(w, "metadata:        plaintext\n")
	} else {
		fmt.Fprintf(w, "metadata:        encrypted, revision %d\n", d.revision)
	}

	if bytes.Equal(d.img.Signature, make([]byte, package2.SignatureSize)) {
		fmt.Fprintf(w, "signature:       none\n")
	} else {
		fmt.Fprintf(w, "signature:       present\n")
	}

	fmt.Fprintf(w, "size:            %#x\n", m.Size())
	fmt.Fprintf(w, "header version:  %d\n", m.HeaderVersion())
	fmt.Fprintf(w, "version range:   [%d, %d]\n", m.VersionMin, m.VersionMax)
	fmt.Fprintf(w, "entrypoint:      %#x\n", m.Entrypoint)

	for i := 0; i < package2.ActiveSections; i++ {
		if m.SectionSizes[i] == 0 {
			continue
		}

		sum := sha256.Sum256(d.section(i))
		status := "ok"

		if !bytes.Equal(sum[:], m.SectionHashes[i][:]) {
			status = "mismatch"
		}

		fmt.Fprintf(w, "section %d:       offset:%#x size:%#x hash:%s\n", i, m.SectionOffsets[i], m.SectionSizes[i], status)
	}
}

func (a *app) inspectCmd() *cobra.Command {
	var (
		seed string
		dir  string
	)

	cmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "print package2 image metadata",
		Long: `inspect prints the metadata of a package2 image and validates it against
the local package2 policy. Encrypted metadata requires the keys directory
and device seed of the emulated device the image was built for.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var p *boot.Provisioning

			raw, err := os.ReadFile(args[0])

			if err != nil {
				return
			}

			if d, e := a.keysDir(dir); e == nil {
				if s, e := a.seed(seed); e == nil {
					if p, err = boot.LoadProvisioning(d, s); err != nil {
						return
					}
				}
			}

			d, err := decode(raw, p)

			if err != nil {
				return
			}

			d.print(cmd.OutOrStdout())

			policy := package2.DefaultPolicy()
			policy.CheckHashes = true

			if err = policy.Validate(d.meta, d.hasher); err != nil {
				return
			}

			fmt.Fprintf(cmd.OutOrStdout(), "policy:          ok\n")

			return
		},
	}

	cmd.Flags().StringVar(&seed, "seed", "", "device seed (hex, default from config)")
	cmd.Flags().StringVarP(&dir, "keys", "k", "", "keys directory (default from config)")

	return cmd
}
