// Copyright (c) F-Secure Corporation
// https://foundry.f-secure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/f-secure-foundry/armory-monitor/internal/boot"
	"github.com/f-secure-foundry/armory-monitor/internal/crypto"
	"github.com/f-secure-foundry/armory-monitor/internal/logger"
	"github.com/f-secure-foundry/armory-monitor/internal/package2"
)

// result represents the emulated boot outcome of an image.
type result struct {
	path    string
	handoff *package2.Handoff
	err     error
}

func (r *result) String() string {
	if r.err != nil {
		if code, fatal := crypto.IsFatal(r.err); fatal {
			return fmt.Sprintf("%s: reset %#08x (%v)", r.path, code, r.err)
		}

		return fmt.Sprintf("%s: %v", r.path, r.err)
	}

	h := r.handoff

	return fmt.Sprintf("%s: ok entrypoint:%#x revision:%d signed:%v plaintext:%v source:%#x",
		r.path, h.Entrypoint, h.Revision, h.Signed, h.Plaintext, h.Source)
}

// verifyImage runs the boot sequence of a fresh emulated device on an image.
func (a *app) verifyImage(ctx context.Context, path string) (r *result) {
	r = &result{path: path}

	raw, err := os.ReadFile(path)

	if err != nil {
		r.err = err
		return
	}

	if err = ctx.Err(); err != nil {
		r.err = err
		return
	}

	p, _, err := boot.Emulated(a.conf)

	if err != nil {
		r.err = err
		return
	}

	if err = boot.Stage(p.Memory, a.conf.StagingBase, raw); err != nil {
		r.err = err
		return
	}

	m, err := boot.Boot(boot.FromConfig(a.conf), p)

	if err != nil {
		r.err = err
		return
	}

	r.handoff = m.Handoff

	return
}

func (a *app) verifyCmd() *cobra.Command {
	var failFast bool

	cmd := &cobra.Command{
		Use:   "verify <image>...",
		Short: "boot package2 images on emulated devices",
		Long: `verify runs the monitor boot sequence, on a fresh emulated device for each
image, and reports the handoff or the reset code which would be raised.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			results := make([]*result, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())

			for i, path := range args {
				i, path := i, path

				g.Go(func() error {
					r := a.verifyImage(ctx, path)
					results[i] = r

					logger.Log.Debugw("image verified", "path", path, "error", r.err)

					if failFast {
						return r.err
					}

					return nil
				})
			}

			err = g.Wait()
			failed := 0

			for _, r := range results {
				if r == nil {
					continue
				}

				if r.err != nil {
					failed++
				}

				fmt.Fprintln(cmd.OutOrStdout(), r)
			}

			if err == nil && failed > 0 {
				err = fmt.Errorf("%d of %d images failed verification", failed, len(args))
			}

			return
		},
	}

	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failure")

	return cmd
}
