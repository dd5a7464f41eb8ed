// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"fmt"
	"sync"
)

// Reading is one sample of a power-state signal.
type Reading uint8

const (
	// Unavailable means the probe could not produce a trustworthy
	// sample: the command failed, the sysfs file was missing, or the
	// sensor value was implausible. Callers treat it as "no signal",
	// never as Off.
	Unavailable Reading = iota

	// Off means the signal indicates the DUT is not running.
	Off

	// On means the signal indicates the DUT is running.
	On
)

// Known reports whether the sample carries information.
func (r Reading) Known() bool { return r != Unavailable }

// Or collapses the reading to a boolean, keeping previous when the
// sample is Unavailable. This is how polling loops retain their last
// trusted state across probe failures.
func (r Reading) Or(previous bool) bool {
	switch r {
	case On:
		return true
	case Off:
		return false
	default:
		return previous
	}
}

// String returns the reading name for logs.
func (r Reading) String() string {
	switch r {
	case On:
		return "on"
	case Off:
		return "off"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("reading(%d)", uint8(r))
	}
}

// Probe samples one power-state signal. Implementations never return
// errors: failure is a Reading of Unavailable, with the cause logged
// by the probe itself.
type Probe interface {
	// Read takes one sample. Blocking work (shell commands, driver
	// round-trips) honors ctx.
	Read(ctx context.Context) Reading

	// Describe names the signal for logs and diagnostics.
	Describe() string
}

// Script is a Probe that replays a fixed sequence of readings and then
// holds the final one. Tests use it to walk a state machine through an
// exact signal history; rig bring-up uses it to dry-run a family
// profile without hardware.
type Script struct {
	mu       sync.Mutex
	name     string
	readings []Reading
	position int
	reads    int
}

// NewScript returns a Script that yields the given readings in order.
// Once exhausted it keeps returning the last reading; an empty script
// always reads Unavailable.
func NewScript(name string, readings ...Reading) *Script {
	return &Script{name: name, readings: readings}
}

// Read returns the next scripted reading.
func (s *Script) Read(ctx context.Context) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if len(s.readings) == 0 {
		return Unavailable
	}
	r := s.readings[s.position]
	if s.position < len(s.readings)-1 {
		s.position++
	}
	return r
}

// Describe names the script.
func (s *Script) Describe() string { return "script:" + s.name }

// Samples reports the total number of Read calls so far.
func (s *Script) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
