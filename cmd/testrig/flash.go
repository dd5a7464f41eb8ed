// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/testrig/cmd/testrig/cli"
	"github.com/bureau-foundation/testrig/dut"
	"github.com/bureau-foundation/testrig/image"
)

func flashCommand() *cli.Command {
	var configPath, device, imagePath, expectDigest string
	var timeout time.Duration

	return &cli.Command{
		Name:    "flash",
		Summary: "Flash an OS image onto the DUT",
		Description: `Flash an OS image onto the DUT using the family's strategy:
SD mux write, two-phase internal provisioning, or USB boot.

The image may be raw or gzip-compressed; zip archives are rejected.
With --expect-digest, the BLAKE3 digest of the decompressed stream is
checked after the write and a mismatch fails the job.`,
		Examples: []cli.Example{
			{
				Description: "Flash a compressed image with a 30 minute bound",
				Command:     "testrig flash --device fincm3 --image os.img.gz --timeout 30m",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("flash", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file (default: TESTRIG_CONFIG)")
			flagSet.StringVar(&device, "device", "", "device family (default: config)")
			flagSet.StringVar(&imagePath, "image", "", "OS image path (required)")
			flagSet.StringVar(&expectDigest, "expect-digest", "", "expected BLAKE3 hex digest of the image stream")
			flagSet.DurationVar(&timeout, "timeout", 0, "operation deadline (0: wait for the board indefinitely)")
			return flagSet
		},
		Run: func(args []string) error {
			if imagePath == "" {
				return fmt.Errorf("--image is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			family, err := resolveFamily(cfg, device)
			if err != nil {
				return err
			}

			logger := cli.NewCommandLogger().With("command", "flash", "family", string(family))

			source, err := image.Open(imagePath)
			if err != nil {
				return err
			}
			defer source.Close()

			controller, err := openController(cfg, logger)
			if err != nil {
				return err
			}
			defer controller.Close()

			store, err := openHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := operationContext(timeout)
			defer cancel()

			err = recordJob(store, "flash", family, source.Name(), expectDigest, func(record dut.AttemptFunc) error {
				dev, err := buildDevice(cfg, family, controller, logger, record)
				if err != nil {
					return err
				}
				started := time.Now()
				if err := dev.Flash(ctx, source); err != nil {
					return err
				}
				if expectDigest != "" {
					if err := source.VerifyDigest(expectDigest); err != nil {
						return err
					}
				}
				logger.Info("flash complete",
					"image", source.Name(),
					"bytes", source.BytesRead(),
					"digest", source.Digest(),
					"elapsed", time.Since(started).Round(time.Second),
				)
				return nil
			})
			return err
		},
	}
}
