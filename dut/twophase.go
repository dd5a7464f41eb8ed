// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/testrig/image"
	"github.com/bureau-foundation/testrig/lib/clock"
	"github.com/bureau-foundation/testrig/probe"
)

// flashTwoPhase writes the flasher image to external media, boots the
// DUT from it, and waits for internal provisioning to finish:
//
//	externalFlash → awaitBoot → gracePeriod → awaitCompletion → detach
//
// The boot and completion waits have no internal bound — the flasher
// image gives no failure signal, only an eventual success one — so
// they run until the signal arrives or ctx is cancelled.
func (d *Device) flashTwoPhase(ctx context.Context, source *image.Source) error {
	if err := d.driver.Flash(ctx, source); err != nil {
		return fmt.Errorf("dut: writing external media: %w", err)
	}
	return d.waitInternalFlash(ctx)
}

// waitInternalFlash reboots the DUT onto the freshly-written flasher
// media and waits for the provisioning cycle: board up, writing,
// board down. On confirmed power-off, the media is muxed back to the
// host.
func (d *Device) waitInternalFlash(ctx context.Context) error {
	// Reboot onto the flasher image. The Jetson's power control is
	// its relay, not the rail: force an OS shutdown before the rail
	// drops, and press the power button once it is back — cutting the
	// rail under a live TX2, or leaving the button unpressed, and the
	// flasher image never boots.
	if d.profile.sequence == seqJetson {
		if err := d.relayPulse(ctx, d.profile.LongPulse); err != nil {
			return fmt.Errorf("dut: internal flash forced shutdown: %w", err)
		}
	}
	if err := d.driver.PowerOffDUT(ctx); err != nil {
		return fmt.Errorf("dut: internal flash power-off: %w", err)
	}
	if err := d.driver.SwitchSDToDUT(ctx, d.timing.MuxSettle); err != nil {
		return fmt.Errorf("dut: internal flash mux: %w", err)
	}
	if err := d.driver.SetVout(ctx, d.profile.Voltage); err != nil {
		return fmt.Errorf("dut: internal flash voltage: %w", err)
	}
	if err := d.driver.PowerOnDUT(ctx); err != nil {
		return fmt.Errorf("dut: internal flash power-on: %w", err)
	}
	if d.profile.sequence == seqJetson {
		if err := d.relayPulse(ctx, d.profile.ShortPulse); err != nil {
			return fmt.Errorf("dut: internal flash power button: %w", err)
		}
	}

	if err := d.awaitBoot(ctx); err != nil {
		return err
	}

	d.logger.Info("flasher booted; holding grace period", "grace", d.timing.GracePeriod)
	if err := clock.Wait(ctx, d.clk, d.timing.GracePeriod); err != nil {
		return fmt.Errorf("dut: interrupted during grace period: %w", err)
	}

	if err := d.awaitPowerOff(ctx); err != nil {
		return err
	}

	d.logger.Info("internal flash confirmed complete")
	if err := d.driver.SwitchSDToHost(ctx, d.timing.MuxSettle); err != nil {
		return fmt.Errorf("dut: muxing media back to host: %w", err)
	}
	return nil
}

// awaitBoot polls the completion probe until it reads On. Unbounded:
// a DUT that never powers up parks here until ctx cancels.
func (d *Device) awaitBoot(ctx context.Context) error {
	for {
		reading := d.completion.Read(ctx)
		d.logDiagnostic(ctx)
		if reading == probe.On {
			return nil
		}
		d.logger.Debug("waiting for flasher boot",
			"probe", d.completion.Describe(), "reading", reading)
		if err := clock.Wait(ctx, d.clk, d.timing.BootPollInterval); err != nil {
			return fmt.Errorf("dut: interrupted waiting for flasher boot: %w", err)
		}
	}
}

// awaitPowerOff runs the outer off-detection poll with the debounce
// window. Only a window of consecutive confirmed-Off samples ends the
// wait; a single Off is a flicker until proven otherwise. Unbounded,
// ctx-cancellable.
func (d *Device) awaitPowerOff(ctx context.Context) error {
	for {
		if err := clock.Wait(ctx, d.clk, d.timing.OffPollInterval); err != nil {
			return fmt.Errorf("dut: interrupted waiting for power-off: %w", err)
		}
		reading := d.completion.Read(ctx)
		if reading != probe.Off {
			continue
		}

		confirmed, err := d.debounceOff(ctx)
		if err != nil {
			return err
		}
		if confirmed {
			d.logDiagnostic(ctx)
			return nil
		}
		d.logger.Debug("off reading did not hold; resuming poll")
	}
}

// debounceOff runs the confirmation window: DebounceSamples fresh
// samples, one per DebounceInterval, every one of which must read
// Off. Anything else — On or a failed probe — discards the window.
func (d *Device) debounceOff(ctx context.Context) (bool, error) {
	for i := 0; i < d.timing.DebounceSamples; i++ {
		if err := clock.Wait(ctx, d.clk, d.timing.DebounceInterval); err != nil {
			return false, fmt.Errorf("dut: interrupted confirming power-off: %w", err)
		}
		if reading := d.completion.Read(ctx); reading != probe.Off {
			d.logger.Debug("debounce window discarded",
				"sample", i, "reading", reading)
			return false, nil
		}
	}
	return true, nil
}

// logDiagnostic samples the secondary probe, if the family has one,
// purely for the log. Its reading never drives the machine.
func (d *Device) logDiagnostic(ctx context.Context) {
	if d.diagnostic == nil {
		return
	}
	d.logger.Debug("diagnostic probe",
		"probe", d.diagnostic.Describe(),
		"reading", d.diagnostic.Read(ctx))
}
