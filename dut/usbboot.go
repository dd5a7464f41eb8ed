// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/testrig/image"
	"github.com/bureau-foundation/testrig/lib/clock"
	"github.com/bureau-foundation/testrig/usb"
)

// flashUSBBoot is the compute-module strategy: power-cycle the module
// into its ROM bootloader, watch the bus for it to re-enumerate as
// mass storage, and write the image to the resulting block device.
//
// Each attempt's bootloader handoff waits are unbounded (ctx only);
// the block-device re-attach carries a per-attempt bound whose expiry
// consumes a retry. Whatever happens, the hub port and the DUT end up
// powered off.
func (d *Device) flashUSBBoot(ctx context.Context, source *image.Source) error {
	defer func() {
		// Teardown runs even when ctx is cancelled: a module left
		// powered in boot mode confuses the next job's enumeration.
		cleanup := context.WithoutCancel(ctx)
		if err := d.hub.Power(cleanup, false); err != nil {
			d.logger.Warn("post-flash hub power-off failed", "error", err)
		}
		if err := d.driver.PowerOffDUT(cleanup); err != nil {
			d.logger.Warn("post-flash DUT power-off failed", "error", err)
		}
	}()

	for attempt := 0; attempt < d.timing.USBBootAttempts; attempt++ {
		d.logger.Info("USB boot attempt", "attempt", attempt)
		started := d.clk.Now()

		devNode, err := d.usbBootAttempt(ctx, attempt)
		if err == nil {
			err = d.writeModule(ctx, devNode, source)
		}
		d.reportAttempt(attempt, started, err)

		if errors.Is(err, errAttachTimeout) {
			d.logger.Warn("module did not re-enumerate; retrying",
				"attempt", attempt, "timeout", d.timing.BlockAttachTimeout)
			continue
		}
		return err
	}

	return fmt.Errorf("dut: module never re-enumerated after %d attempts: %w",
		d.timing.USBBootAttempts, ErrAttemptsExhausted)
}

// writeModule settles, then streams the image to the re-enumerated
// block device.
func (d *Device) writeModule(ctx context.Context, devNode string, source *image.Source) error {
	if err := clock.Wait(ctx, d.clk, d.timing.FlashSettle); err != nil {
		return fmt.Errorf("dut: interrupted before disk write: %w", err)
	}
	if err := d.driver.FlashToDisk(ctx, devNode, source); err != nil {
		return fmt.Errorf("dut: writing %s: %w", devNode, err)
	}
	return nil
}

// usbBootAttempt runs one power-cycle-and-enumerate round, returning
// the block device node to write.
func (d *Device) usbBootAttempt(ctx context.Context, attempt int) (string, error) {
	// Dark-start the module: port power off, DUT off, settle, then
	// the family's re-enable ordering.
	if err := d.hubPower(ctx, false); err != nil {
		return "", err
	}
	if err := d.driver.PowerOffDUT(ctx); err != nil {
		return "", fmt.Errorf("dut: attempt %d power-off: %w", attempt, err)
	}
	if err := clock.Wait(ctx, d.clk, d.profile.USBSettle); err != nil {
		return "", fmt.Errorf("dut: interrupted during USB settle: %w", err)
	}

	watcher, err := d.watcher(ctx)
	if err != nil {
		return "", fmt.Errorf("dut: opening bus watcher: %w", err)
	}
	watcher.Start()
	defer func() {
		if err := watcher.Stop(); err != nil {
			d.logger.Warn("stopping bus watcher failed", "error", err)
		}
	}()

	// The watcher is live before power returns, so the bootloader's
	// attach cannot slip through a startup gap.
	if err := d.powerOnFlash(ctx); err != nil {
		return "", fmt.Errorf("dut: attempt %d power-on: %w", attempt, err)
	}

	// Bootloader appears on the bus.
	bootROM, err := d.awaitEvent(ctx, watcher, nil, func(event usb.Event) bool {
		return event.Action == usb.Attach && event.Drive.Kind == usb.BootROM
	})
	if err != nil {
		return "", fmt.Errorf("dut: waiting for boot ROM: %w", err)
	}
	d.logger.Info("module entered boot ROM", "devpath", bootROM.Drive.DevPath)

	// Bootloader hands off: the same device leaves the bus while the
	// module re-initializes as mass storage.
	_, err = d.awaitEvent(ctx, watcher, nil, func(event usb.Event) bool {
		return event.Action == usb.Detach && event.Drive.Kind == usb.BootROM &&
			event.Drive.DevPath == bootROM.Drive.DevPath
	})
	if err != nil {
		return "", fmt.Errorf("dut: waiting for boot ROM handoff: %w", err)
	}
	d.logger.Info("boot ROM handoff complete")

	// Re-enumeration as a block device, bounded per attempt.
	deadline := d.clk.After(d.timing.BlockAttachTimeout)
	block, err := d.awaitEvent(ctx, watcher, deadline, func(event usb.Event) bool {
		return event.Action == usb.Attach && event.Drive.Kind == usb.BlockDevice &&
			strings.Contains(event.Drive.Description, d.profile.BlockSignature)
	})
	if err != nil {
		return "", err
	}
	d.logger.Info("module re-enumerated",
		"devnode", block.Drive.DevNode, "description", block.Drive.Description)
	return block.Drive.DevNode, nil
}

// awaitEvent blocks until the watcher delivers an event matching
// match, the deadline fires (errAttachTimeout), the watcher fails, or
// ctx cancels. A nil deadline channel never fires.
func (d *Device) awaitEvent(ctx context.Context, watcher USBEvents,
	deadline <-chan time.Time, match func(usb.Event) bool) (usb.Event, error) {
	for {
		select {
		case event, ok := <-watcher.Events():
			if !ok {
				return usb.Event{}, fmt.Errorf("dut: bus watcher closed")
			}
			if match(event) {
				return event, nil
			}
		case err := <-watcher.Errors():
			return usb.Event{}, fmt.Errorf("dut: bus watcher: %w", err)
		case <-deadline:
			return usb.Event{}, errAttachTimeout
		case <-ctx.Done():
			return usb.Event{}, ctx.Err()
		}
	}
}
