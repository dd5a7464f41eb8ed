// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import "errors"

var (
	// ErrUnknownFamily is returned by New and the quirk loader for a
	// family tag not in the catalog.
	ErrUnknownFamily = errors.New("dut: unknown device family")

	// ErrBusy is returned when an operation is invoked while another
	// operation on the same Device is still running. The rig is a
	// single exclusively-owned resource; interleaving two sequences
	// against it produces undefined hardware state.
	ErrBusy = errors.New("dut: device busy")

	// ErrFlashTimeout is returned where a completion wait carries an
	// explicit bound (the Intel NUC current-draw wait) and the bound
	// elapses.
	ErrFlashTimeout = errors.New("dut: flash completion timed out")

	// ErrAttemptsExhausted is returned by the USB-boot strategy when
	// every attempt ends without the module re-enumerating as mass
	// storage. No image was written.
	ErrAttemptsExhausted = errors.New("dut: flash attempts exhausted")

	// errAttachTimeout fails a single USB-boot attempt when the
	// module does not re-enumerate as a block device within the
	// per-attempt bound. Absorbed by the retry loop, never returned
	// to callers.
	errAttachTimeout = errors.New("dut: block device attach timed out")
)
