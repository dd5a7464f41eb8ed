// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import "time"

// Timing holds every polling and waiting constant the state machines
// use. A Device gets its own copy, so per-rig quirk overrides never
// leak between devices.
type Timing struct {
	// MuxSettle is the hold after switching the media mux, passed to
	// the driver with each switch.
	MuxSettle time.Duration

	// BootPollInterval is the period of the two-phase machine's
	// "has the flasher image booted" poll. The wait itself has no
	// bound: only ctx cancels it.
	BootPollInterval time.Duration

	// GracePeriod is the fixed hold after boot detection, while the
	// flasher is assumed to be writing internal storage. Polling for
	// power-off during early provisioning would misread the board's
	// unstable bring-up as completion.
	GracePeriod time.Duration

	// OffPollInterval is the period of the outer off-detection poll.
	OffPollInterval time.Duration

	// DebounceInterval and DebounceSamples define the
	// off-confirmation window: DebounceSamples consecutive samples,
	// one per DebounceInterval, all of which must read Off. Any On
	// discards the window and resumes the outer poll.
	DebounceInterval time.Duration
	DebounceSamples  int

	// CurrentPollInterval and CurrentWaitTimeout bound the Intel
	// NUC completion wait: rail current is sampled every interval,
	// and if it never falls to the idle threshold within the
	// timeout, the flash fails with ErrFlashTimeout.
	CurrentPollInterval time.Duration
	CurrentWaitTimeout  time.Duration

	// USBBootAttempts is how many times the USB-boot strategy
	// power-cycles the module looking for re-enumeration.
	USBBootAttempts int

	// BlockAttachTimeout bounds one attempt's wait for the module to
	// re-enumerate as a block device. Expiry fails the attempt, not
	// the flash.
	BlockAttachTimeout time.Duration

	// FlashSettle is the hold between a block device attaching and
	// the first write to it, letting the kernel finish partition
	// scanning.
	FlashSettle time.Duration
}

// DefaultTiming returns the production constants.
func DefaultTiming() Timing {
	return Timing{
		MuxSettle:           time.Second,
		BootPollInterval:    5 * time.Second,
		GracePeriod:         60 * time.Second,
		OffPollInterval:     10 * time.Second,
		DebounceInterval:    time.Second,
		DebounceSamples:     20,
		CurrentPollInterval: 5 * time.Second,
		CurrentWaitTimeout:  6 * time.Minute,
		USBBootAttempts:     3,
		BlockAttachTimeout:  5 * time.Minute,
		FlashSettle:         time.Second,
	}
}
