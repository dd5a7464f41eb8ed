// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"fmt"
	"strconv"
)

// HubPort switches power to one port of a per-port-power-switchable
// USB hub, via the uhubctl utility. Compute-module flashing depends on
// this: cutting port power forces the module off the bus so the next
// power-on lands it in ROM USB-boot mode.
//
// Toggle failures are survivable — the retry loop around USB-boot
// flashing absorbs a port that did not actually cycle — so callers
// log the error and continue rather than aborting the attempt.
type HubPort struct {
	runner   Runner
	location string
	port     int
}

// NewHubPort returns a controller for the port at the given hub
// location (uhubctl location syntax, e.g. "1-1").
func NewHubPort(runner Runner, location string, port int) *HubPort {
	return &HubPort{runner: runner, location: location, port: port}
}

// Power switches the port on or off.
func (h *HubPort) Power(ctx context.Context, on bool) error {
	action := "off"
	if on {
		action = "on"
	}
	_, err := h.runner.Run(ctx, "uhubctl",
		"-l", h.location,
		"-p", strconv.Itoa(h.port),
		"-a", action,
	)
	if err != nil {
		return fmt.Errorf("probe: hub %s port %d power %s: %w", h.location, h.port, action, err)
	}
	return nil
}

// Describe names the port for logs.
func (h *HubPort) Describe() string {
	return fmt.Sprintf("hub:%s:%d", h.location, h.port)
}
