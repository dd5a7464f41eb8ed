// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bureau-foundation/testrig/cmd/testrig/cli"
	"github.com/bureau-foundation/testrig/dut"
)

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:    "devices",
		Summary: "List supported device families",
		Description: `List every device family the rig can drive, with its rail
voltage and flashing method.`,
		Run: func(args []string) error {
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "FAMILY\tVOLTAGE\tFLASH METHOD")
			for _, family := range dut.Families() {
				profile, _ := dut.LookupProfile(family)
				fmt.Fprintf(tw, "%s\t%gV\t%s\n", family, profile.Voltage, profile.FlashMethod())
			}
			return tw.Flush()
		},
	}
}
