// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/testrig/lib/clock"
)

// powerOnSequence runs the family's ordinary power-on ordering.
func (d *Device) powerOnSequence(ctx context.Context) error {
	if d.profile.PrePowerSettle > 0 {
		if err := clock.Wait(ctx, d.clk, d.profile.PrePowerSettle); err != nil {
			return err
		}
	}

	switch d.profile.sequence {
	case seqSDBoot:
		if err := d.driver.SetVout(ctx, d.profile.Voltage); err != nil {
			return err
		}
		if err := d.driver.SwitchSDToDUT(ctx, d.timing.MuxSettle); err != nil {
			return err
		}
		return d.driver.PowerOnDUT(ctx)

	case seqFlasher:
		if err := d.driver.SetVout(ctx, d.profile.Voltage); err != nil {
			return err
		}
		if err := d.driver.SwitchSDToHost(ctx, d.timing.MuxSettle); err != nil {
			return err
		}
		return d.driver.PowerOnDUT(ctx)

	case seqFin:
		if err := d.hubPower(ctx, false); err != nil {
			return err
		}
		if err := clock.Wait(ctx, d.clk, d.profile.USBSettle); err != nil {
			return err
		}
		if err := d.driver.SetVout(ctx, d.profile.Voltage); err != nil {
			return err
		}
		return d.driver.PowerOnDUT(ctx)

	case seqNUC:
		if err := d.driver.SwitchSDToDUT(ctx, d.timing.MuxSettle); err != nil {
			return err
		}
		return d.driver.PowerOnDUT(ctx)

	case seqJetson:
		if err := d.driver.SetVout(ctx, d.profile.Voltage); err != nil {
			return err
		}
		if err := d.driver.PowerOnDUT(ctx); err != nil {
			return err
		}
		return d.relayPulse(ctx, d.profile.ShortPulse)

	default:
		return fmt.Errorf("dut: family %s has no power-on sequence", d.family)
	}
}

// powerOnFlash re-enables the module after a hub-off/power-off cycle,
// in the family's required ordering. Only USB-boot families have one.
func (d *Device) powerOnFlash(ctx context.Context) error {
	if d.profile.voutBeforeHub {
		// RevPi: the carrier board's hub must not see a powered port
		// before the module rail is live.
		if err := d.driver.SetVout(ctx, d.profile.Voltage); err != nil {
			return err
		}
		if err := clock.Wait(ctx, d.clk, time.Second); err != nil {
			return err
		}
		if err := d.hubPower(ctx, true); err != nil {
			return err
		}
		return d.driver.PowerOnDUT(ctx)
	}

	// Fin: port power first, then the rail, with the family's settle
	// between — the CM3 samples its USB lines at rail-up to decide
	// whether to enter ROM boot.
	if err := d.hubPower(ctx, true); err != nil {
		return err
	}
	if err := clock.Wait(ctx, d.clk, time.Second); err != nil {
		return err
	}
	if err := d.driver.SetVout(ctx, d.profile.Voltage); err != nil {
		return err
	}
	return d.driver.PowerOnDUT(ctx)
}

// hubPower toggles the hub port, degrading to a logged warning on
// failure: a port that did not actually cycle costs one retry, not
// the whole flash.
func (d *Device) hubPower(ctx context.Context, on bool) error {
	if d.hub == nil {
		return nil
	}
	if err := d.hub.Power(ctx, on); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warn("hub port power toggle failed", "on", on, "error", err)
	}
	return nil
}

// relayPulse drives the power-button relay for the given duration.
func (d *Device) relayPulse(ctx context.Context, width time.Duration) error {
	if err := d.driver.DigitalWrite(ctx, d.profile.RelayPin, true); err != nil {
		return err
	}
	if err := clock.Wait(ctx, d.clk, width); err != nil {
		// Never leave the relay closed: a stuck "button" holds the
		// board in a power state the next sequence cannot predict.
		d.driver.DigitalWrite(context.WithoutCancel(ctx), d.profile.RelayPin, false)
		return err
	}
	return d.driver.DigitalWrite(ctx, d.profile.RelayPin, false)
}
