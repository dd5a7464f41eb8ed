// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared by tests: channel
// sends and receives guarded by real-time safety valves so a broken
// state machine fails the test instead of hanging the run.
//
// Production code must not import this package.
package testutil
