// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rig

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Wire protocol between the rig host and the controller MCU: each
// frame is a 4-byte big-endian length prefix followed by one CBOR map.
// Requests carry a sequence number the MCU echoes back, so a response
// read after a timed-out request can be matched (and discarded) rather
// than satisfying the wrong caller.

// Operation codes understood by the rig MCU. Protocol constants —
// changing a value breaks compatibility with deployed firmware.
const (
	opSetVout      = "set_vout"
	opPowerOn      = "power_on"
	opPowerOff     = "power_off"
	opMuxToDUT     = "mux_dut"
	opMuxToHost    = "mux_host"
	opReadAmps     = "read_amps"
	opDigitalWrite = "digital_write"
	opFlashBegin   = "flash_begin"
	opFlashChunk   = "flash_chunk"
	opFlashEnd     = "flash_end"
)

// maxFrameSize bounds a single frame. Flash chunks are 64 KiB of
// payload plus CBOR overhead; anything larger means a corrupt length
// prefix, and reading it would allocate garbage.
const maxFrameSize = 128 * 1024

// flashChunkSize is the image payload carried per flash_chunk frame.
// Sized to the MCU's receive buffer.
const flashChunkSize = 64 * 1024

// request is one host-to-MCU command frame.
type request struct {
	Seq   uint64  `cbor:"seq"`
	Op    string  `cbor:"op"`
	Volts float64 `cbor:"volts,omitempty"`
	Pin   int     `cbor:"pin,omitempty"`
	Level bool    `cbor:"level,omitempty"`
	Data  []byte  `cbor:"data,omitempty"`
}

// response is one MCU-to-host reply frame. A non-empty Fault means the
// MCU rejected or failed the operation; the string is the firmware's
// fault message.
type response struct {
	Seq   uint64  `cbor:"seq"`
	Fault string  `cbor:"fault,omitempty"`
	Amps  float64 `cbor:"amps,omitempty"`
}

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The MCU parser is a fixed
// state machine and depends on deterministic framing.
var encMode cbor.EncMode

// decMode accepts standard CBOR. Unknown fields are ignored so newer
// firmware can add response fields without breaking older hosts.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rig: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("rig: CBOR decoder initialization failed: " + err.Error())
	}
}

// writeFrame encodes v and writes it as one length-prefixed frame.
func writeFrame(w io.Writer, v any) error {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("rig: encoding frame: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("rig: writing frame prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rig: writing frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame and decodes it into v.
func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("rig: reading frame prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameSize {
		return fmt.Errorf("rig: frame length %d exceeds maximum %d", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("rig: reading frame payload: %w", err)
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("rig: decoding frame: %w", err)
	}
	return nil
}
