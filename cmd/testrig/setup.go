// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/testrig/dut"
	"github.com/bureau-foundation/testrig/history"
	"github.com/bureau-foundation/testrig/lib/clock"
	"github.com/bureau-foundation/testrig/lib/config"
	"github.com/bureau-foundation/testrig/probe"
	"github.com/bureau-foundation/testrig/rig"
	"github.com/bureau-foundation/testrig/usb"
)

// loadConfig loads and validates the rig configuration from the
// --config flag or TESTRIG_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveFamily picks the device family from the --device flag,
// falling back to the config file.
func resolveFamily(cfg *config.Config, flagValue string) (dut.Family, error) {
	name := flagValue
	if name == "" {
		name = cfg.Device.Family
	}
	if name == "" {
		return "", fmt.Errorf("no device family: set device.family in the config or pass --device")
	}
	family := dut.Family(name)
	if _, ok := dut.LookupProfile(family); !ok {
		return "", fmt.Errorf("unknown device family %q (see 'testrig devices')", name)
	}
	return family, nil
}

// openController opens the rig MCU serial port. The caller owns the
// returned controller and must Close it.
func openController(cfg *config.Config, logger *slog.Logger) (*rig.Controller, error) {
	return rig.Open(rig.Config{
		PortPath:      cfg.Rig.Port,
		DUTSerialPath: cfg.Rig.DUTSerial,
		Clock:         clock.Real(),
		Logger:        logger,
	})
}

// buildDevice wires a dut.Device for family on top of an open
// controller, applying any quirk file from the config. onAttempt, when
// non-nil, receives each flash attempt's outcome for history recording.
func buildDevice(cfg *config.Config, family dut.Family, controller *rig.Controller, logger *slog.Logger, onAttempt dut.AttemptFunc) (*dut.Device, error) {
	timing := dut.DefaultTiming()
	deviceConfig := dut.Config{
		Driver:    controller,
		Clock:     clock.Real(),
		Logger:    logger,
		Interface: cfg.Device.Interface,
		OnAttempt: onAttempt,
	}

	if cfg.Rig.HubLocation != "" {
		deviceConfig.Hub = probe.NewHubPort(probe.ExecRunner{}, cfg.Rig.HubLocation, cfg.Rig.HubPort)
	}
	deviceConfig.Watcher = func(ctx context.Context) (dut.USBEvents, error) {
		return usb.NewWatcher(usb.Config{
			Exclude: cfg.Rig.ExcludeDisks,
			Logger:  logger,
		})
	}

	if cfg.Device.QuirksFile != "" {
		quirks, err := dut.LoadQuirks(cfg.Device.QuirksFile)
		if err != nil {
			return nil, err
		}
		profile, quirked, err := quirks.Apply(family, timing)
		if err != nil {
			return nil, err
		}
		deviceConfig.Timing = &quirked
		return dut.NewWithProfile(family, profile, deviceConfig)
	}

	deviceConfig.Timing = &timing
	return dut.New(family, deviceConfig)
}

// openHistory opens the job log and prunes expired rows.
func openHistory(cfg *config.Config, logger *slog.Logger) (*history.Store, error) {
	store, err := history.Open(history.Config{
		Path:   cfg.Paths.Database,
		Clock:  clock.Real(),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if _, err := store.Prune(context.Background(), cfg.RetentionDuration()); err != nil {
		logger.Warn("history prune failed", "error", err)
	}
	return store, nil
}

// operationContext returns a context cancelled by SIGINT/SIGTERM and,
// when timeout is positive, by a deadline. The rig's internal waits
// are otherwise unbounded; --timeout turns a wedged board into a
// reported failure.
func operationContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// recordJob wraps op with a history job row. The job's outcome
// mirrors op's error: nil is success, context.Canceled is cancelled,
// anything else is failure. op receives a recorder that persists each
// flash attempt as its own row; operations that never call it (power
// cycles, device construction failures) get a single row mirroring
// the job.
func recordJob(store *history.Store, kind string, family dut.Family, imageName, imageDigest string, op func(record dut.AttemptFunc) error) error {
	jobID, err := store.BeginJob(context.Background(), kind, string(family), imageName, imageDigest)
	if err != nil {
		return err
	}

	// Recording happens on fresh contexts: the rows must land even
	// when the operation itself was cancelled.
	var recorded int
	var recordErr error
	record := func(a dut.AttemptResult) {
		recorded++
		outcome, errText := attemptOutcome(a.Err)
		err := store.RecordAttempt(context.Background(), history.Attempt{
			JobID: jobID, Index: a.Index,
			Started: a.Started, Finished: a.Finished,
			Outcome: outcome, Error: errText,
		})
		if err != nil && recordErr == nil {
			recordErr = err
		}
	}

	started := time.Now()
	opErr := op(record)
	finished := time.Now()

	if recorded == 0 {
		record(dut.AttemptResult{Index: 0, Started: started, Finished: finished, Err: opErr})
	}
	if recordErr != nil {
		return fmt.Errorf("recording attempt: %w (operation: %v)", recordErr, opErr)
	}
	outcome, errText := attemptOutcome(opErr)
	if err := store.FinishJob(context.Background(), jobID, outcome, errText); err != nil {
		return fmt.Errorf("recording job outcome: %w (operation: %v)", err, opErr)
	}
	return opErr
}

// attemptOutcome maps an operation error to its history outcome.
func attemptOutcome(opErr error) (history.Outcome, string) {
	if opErr == nil {
		return history.OutcomeSuccess, ""
	}
	if errors.Is(opErr, context.Canceled) {
		return history.OutcomeCancelled, opErr.Error()
	}
	return history.OutcomeFailure, opErr.Error()
}
