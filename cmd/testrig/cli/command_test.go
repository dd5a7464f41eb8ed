// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "testrig",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "devices",
				Run: func(args []string) error {
					called = "devices"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"devices"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "devices" {
		t.Errorf("dispatched to %q, want %q", called, "devices")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "testrig",
		Subcommands: []*Command{
			{
				Name: "power",
				Subcommands: []*Command{
					{
						Name: "on",
						Run: func(args []string) error {
							called = "power on"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"power", "on", "extra-arg"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "power on" {
		t.Errorf("dispatched to %q, want %q", called, "power on")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "extra-arg" {
		t.Errorf("args = %v, want [extra-arg]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var family string
	var positional string

	command := &Command{
		Name: "flash",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("flash", pflag.ContinueOnError)
			flagSet.StringVar(&family, "device", "fincm3", "device family")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				positional = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--device", "intelnuc", "image.gz"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if family != "intelnuc" {
		t.Errorf("family = %q, want %q", family, "intelnuc")
	}
	if positional != "image.gz" {
		t.Errorf("positional = %q, want %q", positional, "image.gz")
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "testrig",
		Subcommands: []*Command{
			{Name: "devices", Run: func(args []string) error { return nil }},
			{Name: "flash", Run: func(args []string) error { return nil }},
		},
	}

	err := root.Execute([]string{"flsah"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), `did you mean "flash"`) {
		t.Errorf("error = %q, want suggestion for flash", err.Error())
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "flash",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("flash", pflag.ContinueOnError)
			flagSet.String("device", "", "device family")
			flagSet.String("image", "", "image path")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--imgae", "x"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --image") {
		t.Errorf("error = %q, want suggestion for '--image'", errStr)
	}
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "flash",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("flash", pflag.ContinueOnError)
			flagSet.String("device", "", "device family")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--zzzzzzzzz"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	root := &Command{
		Name: "power",
		Subcommands: []*Command{
			{Name: "on", Run: func(args []string) error { return nil }},
		},
	}

	if err := root.Execute(nil); err == nil {
		t.Fatal("Execute() with no args = nil, want 'subcommand required'")
	}
}

func TestCommand_PrintHelp_ListsSubcommandsAndExamples(t *testing.T) {
	root := &Command{
		Name:    "testrig",
		Summary: "DUT power and flash orchestration",
		Subcommands: []*Command{
			{Name: "devices", Summary: "list supported device families"},
			{Name: "flash", Summary: "flash an image onto the DUT"},
		},
		Examples: []Example{
			{Description: "flash a compressed image", Command: "testrig flash --device fincm3 --image os.img.gz"},
		},
	}

	var out bytes.Buffer
	root.PrintHelp(&out)

	help := out.String()
	for _, want := range []string{"devices", "flash an image", "testrig flash --device fincm3", "Commands:"} {
		if !strings.Contains(help, want) {
			t.Errorf("help output missing %q:\n%s", want, help)
		}
	}
}
