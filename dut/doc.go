// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dut orchestrates powering and flashing a device under test
// through the rig driver. Each supported hardware family is a catalog
// entry — a configuration record selecting a voltage, a power-on
// sequence, a flashing strategy, and a completion signal — rather
// than a subclass; the strategies themselves are shared.
//
// Three flashing strategies exist:
//
//   - direct: write the image to the externally-muxed media and stop.
//     SD-boot boards need nothing more.
//   - two-phase: write a flasher image to external media, boot the
//     DUT from it, and wait for the flasher to provision internal
//     storage. Completion is inferred from a noisy power signal
//     (network carrier, rail current, GPIO level) with debounced
//     off-confirmation, because the flasher's last act is to power
//     the board down.
//   - USB boot: for compute modules with no removable media. Cycle
//     the module into its ROM bootloader, watch the USB bus for it to
//     re-enumerate as mass storage, and write the image to the
//     resulting block device. Bounded retries absorb enumeration
//     flakiness.
//
// Every wait suspends on the injected clock and selects on ctx, so
// the waits that are unbounded by design (flasher boot-up,
// off-confirmation) are still cancellable by the caller's budget.
package dut
