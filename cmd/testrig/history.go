// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/testrig/cmd/testrig/cli"
)

func historyCommand() *cli.Command {
	var configPath string
	var limit int

	return &cli.Command{
		Name:    "history",
		Summary: "Show recent jobs",
		Description: `List the rig's recent jobs, newest first. Jobs past the
configured retention period are pruned on every command that touches
the history database.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file (default: TESTRIG_CONFIG)")
			flagSet.IntVar(&limit, "limit", 20, "number of jobs to show")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger().With("command", "history")

			store, err := openHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.RecentJobs(context.Background(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tFAMILY\tIMAGE\tSTARTED\tDURATION\tOUTCOME")
			for _, job := range jobs {
				duration, outcome := "-", "running"
				if !job.Finished.IsZero() {
					duration = job.Finished.Sub(job.Started).Round(time.Second).String()
					outcome = string(job.Outcome)
					if job.Error != "" {
						outcome += ": " + job.Error
					}
				}
				image := job.ImageName
				if image == "" {
					image = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					job.ID, job.Kind, job.Family, image,
					job.Started.Local().Format("2006-01-02 15:04:05"),
					duration, outcome,
				)
			}
			return tw.Flush()
		},
	}
}
