// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// GPIOProbe reads an exported sysfs GPIO line. The Jetson TX2 carrier
// wires the module's power LED to a rig GPIO, which gives a direct
// on/off signal where carrier detection would lag or lie.
//
// The line must already be exported and configured as an input; this
// probe only samples its value.
type GPIOProbe struct {
	runner  Runner
	line    int
	sysRoot string
	logger  *slog.Logger
}

// NewGPIO returns a probe for sysfs GPIO line number line.
func NewGPIO(runner Runner, line int, logger *slog.Logger) *GPIOProbe {
	return &GPIOProbe{runner: runner, line: line, sysRoot: "/sys", logger: logger}
}

// Read samples the line: "1" is On, "0" is Off, anything else is
// Unavailable.
func (p *GPIOProbe) Read(ctx context.Context) Reading {
	path := filepath.Join(p.sysRoot, "class/gpio", fmt.Sprintf("gpio%d", p.line), "value")
	output, err := p.runner.Run(ctx, "cat", path)
	if err != nil {
		p.logger.Debug("gpio read failed", "line", p.line, "error", err)
		return Unavailable
	}

	switch strings.TrimSpace(string(output)) {
	case "1":
		return On
	case "0":
		return Off
	default:
		p.logger.Debug("gpio read returned unexpected output",
			"line", p.line, "output", strings.TrimSpace(string(output)))
		return Unavailable
	}
}

// Describe names the signal.
func (p *GPIOProbe) Describe() string { return fmt.Sprintf("gpio:%d", p.line) }
