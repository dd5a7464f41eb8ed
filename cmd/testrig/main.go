// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command testrig drives a hardware test rig: powering device families
// on and off, flashing OS images, and capturing serial output.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/testrig/cmd/testrig/cli"
	"github.com/bureau-foundation/testrig/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError
		// with the desired code; don't add a redundant "error:" line.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}

func root() *cli.Command {
	return &cli.Command{
		Name: "testrig",
		Description: `testrig: DUT power and flash orchestration.

Drives the rig's tester board to power device families on and off,
flash OS images over the SD mux or USB boot, and capture serial
output.`,
		Subcommands: []*cli.Command{
			devicesCommand(),
			powerCommand(),
			flashCommand(),
			serialCommand(),
			historyCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("testrig %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "List supported device families",
				Command:     "testrig devices",
			},
			{
				Description: "Power on the configured board",
				Command:     "testrig power on",
			},
			{
				Description: "Flash a compressed image, verifying its digest",
				Command:     "testrig flash --device fincm3 --image os.img.gz --expect-digest ab12...",
			},
			{
				Description: "Attach to the DUT console, recording to the capture directory",
				Command:     "testrig serial attach",
			},
			{
				Description: "Show the last ten jobs",
				Command:     "testrig history --limit 10",
			},
		},
	}
}
