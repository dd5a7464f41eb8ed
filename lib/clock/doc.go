// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. Real() provides
// standard library behavior; Manual() provides a deterministic clock for
// tests that advances only when Advance is called.
//
// The flashing state machines spend most of their life suspended on
// settle delays, poll tickers, and grace periods. Driving those waits
// through a Clock lets tests that exercise a six-minute current-draw
// timeout or a twenty-sample debounce window run in microseconds.
//
// # Wiring pattern
//
// Components take a Clock in their Config:
//
//	machine := dut.New(dut.Config{Clock: clock.Real(), ...})
//
// Tests inject a manual clock and step it:
//
//	c := clock.Manual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
//	// ... start the operation in a goroutine ...
//	c.BlockUntil(1)            // operation has registered its wait
//	c.Advance(5 * time.Second) // fire it deterministically
//
// BlockUntil eliminates the race between a goroutine registering a
// timer and the test advancing past its deadline.
package clock
