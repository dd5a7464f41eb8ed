// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/testrig/image"
	"github.com/bureau-foundation/testrig/lib/clock"
	"github.com/bureau-foundation/testrig/probe"
	"github.com/bureau-foundation/testrig/rig"
	"github.com/bureau-foundation/testrig/usb"
)

// USBEvents is the slice of the bus watcher the USB-boot strategy
// consumes. usb.Watcher and usb.FakeWatcher both satisfy it.
type USBEvents interface {
	Start()
	Events() <-chan usb.Event
	Errors() <-chan error
	Stop() error
}

// WatcherSource opens a scoped bus watcher for one flash attempt.
// The strategy stops the watcher when the attempt ends.
type WatcherSource func(ctx context.Context) (USBEvents, error)

// HubPower switches power to the DUT's USB hub port. probe.HubPort
// satisfies it.
type HubPower interface {
	Power(ctx context.Context, on bool) error
}

// AttemptResult describes one completed flash attempt: which attempt
// it was, when it ran, and how it ended. Err is nil on success.
type AttemptResult struct {
	Index    int
	Started  time.Time
	Finished time.Time
	Err      error
}

// AttemptFunc receives each flash attempt's outcome as it completes.
// Single-shot strategies report exactly one attempt (index 0); the
// USB-boot strategy reports one per power-cycle round, including the
// rounds its retry loop absorbs.
type AttemptFunc func(AttemptResult)

// Config holds the collaborators a Device needs. Driver and Logger
// are always required; Hub and Watcher only for USB-boot families.
type Config struct {
	// Driver is the shared rig driver. The Device does not own it.
	Driver rig.Driver

	// Clock drives every wait. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives state-machine progress. Required.
	Logger *slog.Logger

	// Timing overrides the default polling constants. Nil means
	// DefaultTiming.
	Timing *Timing

	// Runner executes the shell-backed probes (carrier, GPIO).
	// Defaults to probe.ExecRunner.
	Runner probe.Runner

	// Interface is the DUT-facing network interface for carrier
	// probing. Defaults to "eth1" (the rig's standard wiring).
	Interface string

	// Probe overrides the family's default completion probe. Tests
	// inject scripted probes here.
	Probe probe.Probe

	// Hub switches the module's USB port power. Required for
	// USB-boot families.
	Hub HubPower

	// Watcher opens a scoped USB watcher per flash attempt.
	// Required for USB-boot families.
	Watcher WatcherSource

	// OnAttempt, when set, is called with each flash attempt's
	// outcome. Callers use it to persist per-attempt history rows.
	OnAttempt AttemptFunc
}

// Device is one DUT attached to the rig, configured for its hardware
// family. Exactly one operation may run at a time; a second call
// while one is in flight returns ErrBusy.
type Device struct {
	family  Family
	profile Profile
	timing  Timing

	driver rig.Driver
	clk    clock.Clock
	logger *slog.Logger

	completion probe.Probe
	diagnostic probe.Probe
	hub        HubPower
	watcher    WatcherSource
	onAttempt  AttemptFunc

	busy sync.Mutex
}

// New builds a Device for the given family. Quirk overrides, if any,
// must be applied to cfg.Timing and the profile by the caller (see
// LoadQuirks) before construction.
func New(family Family, cfg Config) (*Device, error) {
	return newDevice(family, catalog[family], cfg)
}

// NewWithProfile builds a Device from an explicit profile — the
// quirk-override path, where the catalog profile has been adjusted
// for a specific rig revision.
func NewWithProfile(family Family, profile Profile, cfg Config) (*Device, error) {
	return newDevice(family, profile, cfg)
}

func newDevice(family Family, profile Profile, cfg Config) (*Device, error) {
	if _, ok := catalog[family]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	if cfg.Driver == nil {
		return nil, fmt.Errorf("dut: Driver is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("dut: Logger is required")
	}
	if profile.strategy == flashUSBBoot {
		if cfg.Hub == nil {
			return nil, fmt.Errorf("dut: family %q requires a Hub", family)
		}
		if cfg.Watcher == nil {
			return nil, fmt.Errorf("dut: family %q requires a Watcher", family)
		}
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timing := DefaultTiming()
	if cfg.Timing != nil {
		timing = *cfg.Timing
	}
	runner := cfg.Runner
	if runner == nil {
		runner = probe.ExecRunner{}
	}
	iface := cfg.Interface
	if iface == "" {
		iface = "eth1"
	}
	logger := cfg.Logger.With("family", string(family))

	d := &Device{
		family:    family,
		profile:   profile,
		timing:    timing,
		driver:    cfg.Driver,
		clk:       clk,
		logger:    logger,
		hub:       cfg.Hub,
		watcher:   cfg.Watcher,
		onAttempt: cfg.OnAttempt,
	}

	d.completion = cfg.Probe
	if d.completion == nil {
		switch {
		case profile.strategy == flashDirectCurrentWait:
			d.completion = probe.NewCurrentThreshold(cfg.Driver, nucIdleThreshold, logger)
		case profile.signal == signalCarrier:
			d.completion = probe.NewCarrier(runner, iface, logger)
		case profile.signal == signalCurrentWindow:
			d.completion = probe.NewCurrentWindow(cfg.Driver, currentWindowFloor, currentWindowCeiling, logger)
		case profile.signal == signalGPIO:
			d.completion = probe.NewGPIO(runner, profile.GPIOLine, logger)
		}
	}
	// The Jetson's carrier signal lags its GPIO by tens of seconds;
	// it is logged for correlation but never drives the machine.
	if profile.signal == signalGPIO {
		d.diagnostic = probe.NewCarrier(runner, iface, logger)
	}

	return d, nil
}

// Family returns the device's family tag.
func (d *Device) Family() Family { return d.family }

// Voltage returns the rail level in volts. Fixed at construction.
func (d *Device) Voltage() float64 { return d.profile.Voltage }

// acquire takes the single-operation guard.
func (d *Device) acquire() error {
	if !d.busy.TryLock() {
		return ErrBusy
	}
	return nil
}

// PowerOn runs the family's power-on sequence. On success the target
// voltage is applied and the DUT is out of reset.
func (d *Device) PowerOn(ctx context.Context) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.busy.Unlock()

	d.logger.Info("powering on")
	if err := d.powerOnSequence(ctx); err != nil {
		return fmt.Errorf("dut: powering on %s: %w", d.family, err)
	}
	return nil
}

// PowerOff stops serial capture and removes DUT power. The Jetson
// forces an OS shutdown through its relay first; cutting the rail
// under a live TX2 corrupts its eMMC often enough to matter.
func (d *Device) PowerOff(ctx context.Context) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.busy.Unlock()

	return d.powerOffLocked(ctx)
}

func (d *Device) powerOffLocked(ctx context.Context) error {
	d.logger.Info("powering off")
	if err := d.driver.CloseDUTSerial(); err != nil {
		// Capture teardown failing must not leave the board powered.
		d.logger.Warn("closing serial capture failed", "error", err)
	}
	if d.profile.sequence == seqJetson {
		if err := d.relayPulse(ctx, d.profile.LongPulse); err != nil {
			return fmt.Errorf("dut: forcing shutdown: %w", err)
		}
	}
	if err := d.driver.PowerOffDUT(ctx); err != nil {
		return fmt.Errorf("dut: powering off %s: %w", d.family, err)
	}
	return nil
}

// Flash writes the image to the DUT using the family's strategy. It
// returns only once a terminal state is reached: the image is
// committed, an error occurred, or (USB boot) every attempt was
// exhausted. It never returns with media writes still in flight.
func (d *Device) Flash(ctx context.Context, source *image.Source) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.busy.Unlock()

	d.logger.Info("flashing", "image", source.Name())

	var err error
	if d.profile.strategy == flashUSBBoot {
		// Reports its own attempt outcomes, one per retry round.
		err = d.flashUSBBoot(ctx, source)
	} else {
		started := d.clk.Now()
		err = d.flashSingleShot(ctx, source)
		d.reportAttempt(0, started, err)
	}
	if err != nil {
		return err
	}

	d.logger.Info("flash complete", "image", source.Name(),
		"bytes", source.BytesRead(), "digest", source.Digest())
	return nil
}

// flashSingleShot dispatches the strategies that run as one
// uninterrupted try.
func (d *Device) flashSingleShot(ctx context.Context, source *image.Source) error {
	switch d.profile.strategy {
	case flashDirect:
		return d.driver.Flash(ctx, source)
	case flashDirectCurrentWait:
		return d.flashDirectCurrentWait(ctx, source)
	case flashTwoPhase:
		return d.flashTwoPhase(ctx, source)
	default:
		return fmt.Errorf("dut: family %s has no flash strategy", d.family)
	}
}

// reportAttempt delivers one attempt outcome to the OnAttempt hook.
func (d *Device) reportAttempt(index int, started time.Time, err error) {
	if d.onAttempt == nil {
		return
	}
	d.onAttempt(AttemptResult{
		Index:    index,
		Started:  started,
		Finished: d.clk.Now(),
		Err:      err,
	})
}

// FlashFile opens the image at path and flashes it. Unsupported
// formats (zip) are rejected by image.Open before any driver call.
func (d *Device) FlashFile(ctx context.Context, path string) error {
	source, err := image.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()
	return d.Flash(ctx, source)
}
