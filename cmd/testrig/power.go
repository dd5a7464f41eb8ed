// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/testrig/cmd/testrig/cli"
	"github.com/bureau-foundation/testrig/dut"
)

func powerCommand() *cli.Command {
	return &cli.Command{
		Name:    "power",
		Summary: "Switch DUT power",
		Subcommands: []*cli.Command{
			powerSubcommand("on", "Power the DUT on",
				func(ctx context.Context, dev *dut.Device) error { return dev.PowerOn(ctx) }),
			powerSubcommand("off", "Power the DUT off",
				func(ctx context.Context, dev *dut.Device) error { return dev.PowerOff(ctx) }),
		},
	}
}

func powerSubcommand(name, summary string, op func(context.Context, *dut.Device) error) *cli.Command {
	var configPath, device string
	var timeout time.Duration

	return &cli.Command{
		Name:    name,
		Summary: summary,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file (default: TESTRIG_CONFIG)")
			flagSet.StringVar(&device, "device", "", "device family (default: config)")
			flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "operation deadline")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			family, err := resolveFamily(cfg, device)
			if err != nil {
				return err
			}

			logger := cli.NewCommandLogger().With("command", "power "+name, "family", string(family))

			controller, err := openController(cfg, logger)
			if err != nil {
				return err
			}
			defer controller.Close()

			dev, err := buildDevice(cfg, family, controller, logger, nil)
			if err != nil {
				return err
			}
			store, err := openHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := operationContext(timeout)
			defer cancel()

			return recordJob(store, "power-"+name, family, "", "", func(dut.AttemptFunc) error {
				return op(ctx, dev)
			})
		},
	}
}
