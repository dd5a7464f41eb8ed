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

// flashDirectCurrentWait is the Intel NUC strategy: write the media,
// then wait for the NUC's flasher to finish, inferred from rail
// current falling to idle. The one completion wait in the catalog
// with a deterministic bound — the NUC gives a clean current signal,
// so a wait past the bound means the flasher wedged, not that the
// signal is slow.
func (d *Device) flashDirectCurrentWait(ctx context.Context, source *image.Source) error {
	if err := d.driver.Flash(ctx, source); err != nil {
		return fmt.Errorf("dut: writing media: %w", err)
	}

	if err := d.awaitCurrentDrop(ctx); err != nil {
		return err
	}

	// Idle confirmed: cycle the box onto its freshly-written disk.
	if err := d.driver.PowerOffDUT(ctx); err != nil {
		return fmt.Errorf("dut: post-flash power-off: %w", err)
	}
	if err := d.driver.SwitchSDToHost(ctx, d.timing.MuxSettle); err != nil {
		return fmt.Errorf("dut: post-flash mux: %w", err)
	}
	if err := d.driver.PowerOnDUT(ctx); err != nil {
		return fmt.Errorf("dut: post-flash power-on: %w", err)
	}
	return nil
}

// awaitCurrentDrop polls rail current until it reads idle (Off), or
// the hard bound elapses. A failed sample keeps the wait running: no
// signal is not the same as idle.
func (d *Device) awaitCurrentDrop(ctx context.Context) error {
	deadline := d.clk.Now().Add(d.timing.CurrentWaitTimeout)
	for {
		reading := d.completion.Read(ctx)
		if reading == probe.Off {
			return nil
		}
		d.logger.Debug("waiting for current drop",
			"probe", d.completion.Describe(), "reading", reading)

		if !d.clk.Now().Before(deadline) {
			return fmt.Errorf("dut: current draw never fell to idle within %s: %w",
				d.timing.CurrentWaitTimeout, ErrFlashTimeout)
		}
		if err := clock.Wait(ctx, d.clk, d.timing.CurrentPollInterval); err != nil {
			return fmt.Errorf("dut: interrupted waiting for current drop: %w", err)
		}
	}
}
