// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/testrig/capture"
	"github.com/bureau-foundation/testrig/cmd/testrig/cli"
)

func serialCommand() *cli.Command {
	return &cli.Command{
		Name:    "serial",
		Summary: "DUT console capture",
		Subcommands: []*cli.Command{
			serialAttachCommand(),
			serialDumpCommand(),
		},
	}
}

func serialAttachCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "attach",
		Summary: "Stream the DUT console, recording to the capture directory",
		Description: `Open the DUT's console UART and stream it to stdout until
interrupted. Output is simultaneously recorded as a compressed capture
container under paths.captures for later 'testrig serial dump'.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("attach", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file (default: TESTRIG_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger().With("command", "serial attach")

			controller, err := openController(cfg, logger)
			if err != nil {
				return err
			}
			defer controller.Close()

			ctx, cancel := operationContext(0)
			defer cancel()

			console, err := controller.OpenDUTSerial(ctx)
			if err != nil {
				return err
			}

			capturePath := filepath.Join(cfg.Paths.Captures,
				fmt.Sprintf("serial-%s.trsc", time.Now().UTC().Format("20060102-150405")))
			file, err := os.Create(capturePath)
			if err != nil {
				return fmt.Errorf("creating capture file: %w", err)
			}
			defer file.Close()

			recorder, err := capture.NewWriter(capture.WriterConfig{
				Sink: file,
				Tag:  cfg.CompressionTag(),
			})
			if err != nil {
				return err
			}
			logger.Info("capturing console", "file", capturePath)

			// The serial read blocks; closing the port on cancellation
			// is what unblocks the copy loop.
			go func() {
				<-ctx.Done()
				controller.CloseDUTSerial()
			}()

			_, copyErr := io.Copy(io.MultiWriter(os.Stdout, recorder), console)
			if err := recorder.Close(); err != nil {
				return err
			}
			if ctx.Err() != nil {
				// Interrupted by the operator: the capture is complete.
				return nil
			}
			return copyErr
		},
	}
}

func serialDumpCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "dump",
		Summary: "Print a recorded serial capture",
		Usage:   "testrig serial dump [capture-file]",
		Description: `Decompress a capture container to stdout. With no argument,
dumps the most recent capture in paths.captures.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file (default: TESTRIG_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			var path string
			if len(args) > 0 {
				path = args[0]
			} else {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				path, err = newestCapture(cfg.Paths.Captures)
				if err != nil {
					return err
				}
			}

			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			reader, err := capture.NewReader(file)
			if err != nil {
				return err
			}
			_, err = reader.WriteTo(os.Stdout)
			return err
		},
	}
}

// newestCapture returns the most recently modified capture container
// in dir.
func newestCapture(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "serial-*.trsc"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no captures in %s", dir)
	}
	sort.Slice(matches, func(i, j int) bool {
		infoI, errI := os.Stat(matches[i])
		infoJ, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] > matches[j]
		}
		return infoI.ModTime().After(infoJ.ModTime())
	})
	return matches[0], nil
}
