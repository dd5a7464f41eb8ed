// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rig

import (
	"context"
	"io"
	"time"
)

// Driver is the hardware contract consumed by the device state
// machines. Exactly one rig exists per host; implementations are not
// safe for concurrent use and the caller guarantees a single active
// user (the dut package's busy guard plus the controller's exclusive
// port lock enforce this).
//
// Every method takes a context: a rig round-trip can stall if the MCU
// wedges, and a stalled primitive must not hang a flashing job beyond
// its budget.
type Driver interface {
	// SetVout sets the DUT voltage rail to the given level in volts.
	// The rail may be set while the DUT is unpowered; the level takes
	// effect on PowerOnDUT.
	SetVout(ctx context.Context, volts float64) error

	// PowerOnDUT connects the rail and releases the DUT from reset.
	PowerOnDUT(ctx context.Context) error

	// PowerOffDUT removes DUT power.
	PowerOffDUT(ctx context.Context) error

	// SwitchSDToDUT routes the boot media to the DUT, then holds for
	// settle to let the mux rails stabilize before the next command.
	SwitchSDToDUT(ctx context.Context, settle time.Duration) error

	// SwitchSDToHost routes the boot media to the rig host, then
	// holds for settle.
	SwitchSDToHost(ctx context.Context, settle time.Duration) error

	// ReadVoutAmperage samples the instantaneous current draw on the
	// DUT rail, in amps.
	ReadVoutAmperage(ctx context.Context) (float64, error)

	// DigitalWrite drives a rig GPIO line high or low. Used for
	// relay-controlled families (Jetson TX2 power button).
	DigitalWrite(ctx context.Context, pin int, level bool) error

	// OpenDUTSerial starts capturing the DUT's serial console and
	// returns the byte stream. At most one capture is open at a time.
	OpenDUTSerial(ctx context.Context) (io.ReadCloser, error)

	// CloseDUTSerial stops the serial capture. Safe to call when no
	// capture is open.
	CloseDUTSerial() error

	// Flash streams an image to whatever media is currently muxed to
	// the host side. Returns only after the final bytes are committed.
	Flash(ctx context.Context, source io.Reader) error

	// FlashToDisk streams an image directly to a host block device
	// node (a re-enumerated compute module). Returns only after the
	// data is synced.
	FlashToDisk(ctx context.Context, devNode string, source io.Reader) error
}
