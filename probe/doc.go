// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe reads the indirect signals that reveal whether a DUT
// is powered and running: network-link carrier, sysfs GPIO levels, and
// current draw on the rig's voltage rail. None of these signals is
// authoritative — links flap, sensors glitch, sysfs files vanish while
// an interface renegotiates — so every probe returns a three-state
// Reading instead of a bare boolean: On, Off, or Unavailable.
//
// Unavailable is the load-bearing state. The original distinction it
// preserves: "the DUT is confirmed off" and "the probe failed" demand
// opposite responses from a flashing state machine. Confirmed off ends
// a debounce window; a failed probe must not.
//
// Probes that shell out (carrier, GPIO, hub power) go through a Runner
// so tests substitute scripted output for real /sys reads.
package probe
