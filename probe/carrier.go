// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
)

// CarrierProbe reads the link-carrier flag of a network interface.
// Most DUT families wire their ethernet port to the rig controller's
// switch, so carrier-present means the DUT's network stack is up —
// the default "is it running" signal for flasher-image completion
// detection.
//
// The kernel returns EINVAL for the carrier file while the interface
// is administratively down, so a failed read is routine, not an
// error: it maps to Unavailable.
type CarrierProbe struct {
	runner  Runner
	iface   string
	sysRoot string
	logger  *slog.Logger
}

// NewCarrier returns a probe for the named interface's carrier flag.
func NewCarrier(runner Runner, iface string, logger *slog.Logger) *CarrierProbe {
	return &CarrierProbe{runner: runner, iface: iface, sysRoot: "/sys", logger: logger}
}

// Read samples the carrier flag: "1" is On, "0" is Off, anything else
// (including a failed read) is Unavailable.
func (p *CarrierProbe) Read(ctx context.Context) Reading {
	path := filepath.Join(p.sysRoot, "class/net", p.iface, "carrier")
	output, err := p.runner.Run(ctx, "cat", path)
	if err != nil {
		p.logger.Debug("carrier read failed", "interface", p.iface, "error", err)
		return Unavailable
	}

	switch strings.TrimSpace(string(output)) {
	case "1":
		return On
	case "0":
		return Off
	default:
		p.logger.Debug("carrier read returned unexpected output",
			"interface", p.iface, "output", strings.TrimSpace(string(output)))
		return Unavailable
	}
}

// Describe names the signal.
func (p *CarrierProbe) Describe() string { return "carrier:" + p.iface }
