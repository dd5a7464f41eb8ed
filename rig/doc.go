// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rig drives the test-rig controller board: the MCU that owns
// the DUT's voltage rail, the SD/media multiplexer, the rail current
// sensor, and a handful of GPIO lines. The board speaks a
// length-prefixed CBOR request/response protocol over a serial port;
// Controller implements that protocol and exposes it as the Driver
// interface the device state machines consume.
//
// Driver is deliberately primitive: one method per rig operation, no
// sequencing logic. Which primitives run, in what order, with what
// settle delays, is the dut package's job — families differ wildly and
// that variability does not belong down here.
//
// Fake is a recording Driver for tests and dry runs: it captures the
// exact operation sequence and serves scripted amperage readings.
package rig
