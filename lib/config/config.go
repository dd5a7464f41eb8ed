// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the rig.
//
// Configuration is loaded from a single file specified by either the
// TESTRIG_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search: a rig's behavior must be auditable from one file.
//
// The only expansion performed is ${VAR} and ${VAR:-default} on path
// fields, for portability across benches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/testrig/capture"
	"github.com/bureau-foundation/testrig/dut"
)

// Config is the rig's master configuration.
type Config struct {
	// Paths configures file locations.
	Paths PathsConfig `yaml:"paths"`

	// Rig configures the tester board connection.
	Rig RigConfig `yaml:"rig"`

	// Device configures the board under test.
	Device DeviceConfig `yaml:"device"`

	// History configures the job log.
	History HistoryConfig `yaml:"history"`

	// Capture configures serial capture.
	Capture CaptureConfig `yaml:"capture"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the base directory for rig state.
	Root string `yaml:"root"`

	// Database is the SQLite job history file.
	Database string `yaml:"database"`

	// Captures is the directory serial capture containers land in.
	Captures string `yaml:"captures"`
}

// RigConfig configures the tester board connection.
type RigConfig struct {
	// Port is the tester board's control serial device.
	Port string `yaml:"port"`

	// DUTSerial is the serial device wired to the DUT console.
	DUTSerial string `yaml:"dut_serial"`

	// HubLocation and HubPort identify the uhubctl-controllable hub
	// port feeding the DUT's USB connection (USB-boot families).
	HubLocation string `yaml:"hub_location"`
	HubPort     int    `yaml:"hub_port"`

	// ExcludeDisks are block device names (without /dev/) the USB
	// watcher must never report: the rig host's own storage. Required
	// before a USB-boot flash — writing a boot image over the host's
	// disk is the failure mode this exists to prevent.
	ExcludeDisks []string `yaml:"exclude_disks"`
}

// DeviceConfig configures the board under test.
type DeviceConfig struct {
	// Family is the DUT hardware family tag. The CLI's --device flag
	// overrides it.
	Family string `yaml:"family"`

	// Interface is the network interface wired to the DUT, used by
	// the carrier-sense completion probe. Defaults to eth1.
	Interface string `yaml:"interface"`

	// QuirksFile is an optional JSONC file of per-rig overrides.
	QuirksFile string `yaml:"quirks_file"`
}

// HistoryConfig configures the job log.
type HistoryConfig struct {
	// Retention is how long finished jobs are kept, as a Go duration
	// string. Defaults to 720h (30 days).
	Retention string `yaml:"retention"`
}

// CaptureConfig configures serial capture.
type CaptureConfig struct {
	// Compression is the chunk compression tag: none, lz4, or zstd.
	// Defaults to lz4.
	Compression string `yaml:"compression"`
}

// Default returns a Config with every field at its bench default.
// The config file is still required; these exist so partial files
// yield a usable whole.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "share", "testrig")

	return &Config{
		Paths: PathsConfig{
			Root:     root,
			Database: filepath.Join(root, "history.db"),
			Captures: filepath.Join(root, "captures"),
		},
		Rig: RigConfig{
			Port:      "/dev/ttyACM0",
			DUTSerial: "/dev/ttyAMA0",
		},
		Device: DeviceConfig{
			Interface: "eth1",
		},
		History: HistoryConfig{
			Retention: "720h",
		},
		Capture: CaptureConfig{
			Compression: "lz4",
		},
	}
}

// Load loads configuration from the TESTRIG_CONFIG environment
// variable. There is no fallback path: if the variable is unset, Load
// fails.
func Load() (*Config, error) {
	path := os.Getenv("TESTRIG_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("TESTRIG_CONFIG environment variable not set; " +
			"set it to the path of your testrig.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, merged over the defaults.
// Environment variables never override file values; only ${VAR} path
// expansion reads the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TESTRIG_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TESTRIG_ROOT"] = c.Paths.Root // dependent paths see the expansion

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Captures = expandVars(c.Paths.Captures, vars)
	c.Device.QuirksFile = expandVars(c.Device.QuirksFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, defaultValue := parts[1], ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Rig.Port == "" {
		errs = append(errs, fmt.Errorf("rig.port is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}
	if c.Device.Interface == "" {
		errs = append(errs, fmt.Errorf("device.interface is required"))
	}
	if c.Device.Family != "" {
		if _, ok := dut.LookupProfile(dut.Family(c.Device.Family)); !ok {
			errs = append(errs, fmt.Errorf("device.family: unknown family %q", c.Device.Family))
		}
	}
	if _, err := capture.ParseTag(c.Capture.Compression); err != nil {
		errs = append(errs, fmt.Errorf("capture.compression: %w", err))
	}
	if _, err := time.ParseDuration(c.History.Retention); err != nil {
		errs = append(errs, fmt.Errorf("history.retention: %w", err))
	}

	return errors.Join(errs...)
}

// RetentionDuration returns the parsed history retention period.
// Call Validate first; a malformed value falls back to 30 days.
func (c *Config) RetentionDuration() time.Duration {
	retention, err := time.ParseDuration(c.History.Retention)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return retention
}

// CompressionTag returns the parsed capture compression tag. Call
// Validate first; a malformed value falls back to lz4.
func (c *Config) CompressionTag() capture.Tag {
	tag, err := capture.ParseTag(c.Capture.Compression)
	if err != nil {
		return capture.TagLZ4
	}
	return tag
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Captures, filepath.Dir(c.Paths.Database)} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", path, err)
		}
	}
	return nil
}
