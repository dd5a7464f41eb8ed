// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rig

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Fake is a Driver that records every operation instead of touching
// hardware. State-machine tests assert on the exact call sequence;
// rig bring-up uses it to dry-run a family profile.
//
// Operations are recorded as compact strings: "setVout(5)",
// "switchSdToDUT(1s)", "powerOnDUT", "flashToDisk(/dev/sdb)". Amperage
// reads serve scripted samples in order, repeating the last.
type Fake struct {
	mu sync.Mutex

	ops       []string
	amperage  []float64
	ampIndex  int
	ampErr    error
	failOps   map[string]error
	flashed   bytes.Buffer
	diskNodes []string
	serial    io.ReadCloser
}

// NewFake returns an empty recording driver.
func NewFake() *Fake {
	return &Fake{failOps: make(map[string]error)}
}

// Ops returns a copy of the recorded operation sequence.
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// ScriptAmperage sets the samples ReadVoutAmperage will serve, in
// order. Once exhausted, the last sample repeats.
func (f *Fake) ScriptAmperage(samples ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.amperage = samples
	f.ampIndex = 0
}

// FailAmperage makes every ReadVoutAmperage return err.
func (f *Fake) FailAmperage(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ampErr = err
}

// FailOp makes the named operation (as recorded, without arguments:
// "setVout", "powerOnDUT", "flash") return err.
func (f *Fake) FailOp(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps[name] = err
}

// SetSerial sets the stream OpenDUTSerial returns.
func (f *Fake) SetSerial(rc io.ReadCloser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serial = rc
}

// Flashed returns everything written via Flash.
func (f *Fake) Flashed() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.flashed.Bytes()...)
}

// FlashedDisks returns the device nodes written via FlashToDisk.
func (f *Fake) FlashedDisks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.diskNodes...)
}

// record appends the op (honoring ctx and scripted failures). name is
// the bare operation name used for FailOp matching; display is the
// recorded form with arguments.
func (f *Fake) record(ctx context.Context, name, display string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, display)
	if err := f.failOps[name]; err != nil {
		return err
	}
	return nil
}

// SetVout records "setVout(V)".
func (f *Fake) SetVout(ctx context.Context, volts float64) error {
	return f.record(ctx, "setVout", fmt.Sprintf("setVout(%g)", volts))
}

// PowerOnDUT records "powerOnDUT".
func (f *Fake) PowerOnDUT(ctx context.Context) error {
	return f.record(ctx, "powerOnDUT", "powerOnDUT")
}

// PowerOffDUT records "powerOffDUT".
func (f *Fake) PowerOffDUT(ctx context.Context) error {
	return f.record(ctx, "powerOffDUT", "powerOffDUT")
}

// SwitchSDToDUT records "switchSdToDUT(settle)".
func (f *Fake) SwitchSDToDUT(ctx context.Context, settle time.Duration) error {
	return f.record(ctx, "switchSdToDUT", fmt.Sprintf("switchSdToDUT(%s)", settle))
}

// SwitchSDToHost records "switchSdToHost(settle)".
func (f *Fake) SwitchSDToHost(ctx context.Context, settle time.Duration) error {
	return f.record(ctx, "switchSdToHost", fmt.Sprintf("switchSdToHost(%s)", settle))
}

// ReadVoutAmperage serves the next scripted sample. Reads are not
// recorded in the op sequence: polling loops sample hundreds of times
// and would drown the calls the tests actually assert on.
func (f *Fake) ReadVoutAmperage(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ampErr != nil {
		return 0, f.ampErr
	}
	if len(f.amperage) == 0 {
		return 0, nil
	}
	sample := f.amperage[f.ampIndex]
	if f.ampIndex < len(f.amperage)-1 {
		f.ampIndex++
	}
	return sample, nil
}

// DigitalWrite records "digitalWrite(pin,level)".
func (f *Fake) DigitalWrite(ctx context.Context, pin int, level bool) error {
	return f.record(ctx, "digitalWrite", fmt.Sprintf("digitalWrite(%d,%t)", pin, level))
}

// OpenDUTSerial records "openDutSerial" and returns the configured
// stream (or an empty one).
func (f *Fake) OpenDUTSerial(ctx context.Context) (io.ReadCloser, error) {
	if err := f.record(ctx, "openDutSerial", "openDutSerial"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.serial != nil {
		return f.serial, nil
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

// CloseDUTSerial records "closeDutSerial".
func (f *Fake) CloseDUTSerial() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "closeDutSerial")
	if err := f.failOps["closeDutSerial"]; err != nil {
		return err
	}
	return nil
}

// Flash records "flash" and captures the image bytes.
func (f *Fake) Flash(ctx context.Context, source io.Reader) error {
	if err := f.record(ctx, "flash", "flash"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := io.Copy(&f.flashed, source); err != nil {
		return fmt.Errorf("rig: fake flash: %w", err)
	}
	return nil
}

// FlashToDisk records "flashToDisk(node)" and captures the bytes.
func (f *Fake) FlashToDisk(ctx context.Context, devNode string, source io.Reader) error {
	if err := f.record(ctx, "flashToDisk", fmt.Sprintf("flashToDisk(%s)", devNode)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diskNodes = append(f.diskNodes, devNode)
	if _, err := io.Copy(&f.flashed, source); err != nil {
		return fmt.Errorf("rig: fake flashToDisk: %w", err)
	}
	return nil
}

var _ Driver = (*Fake)(nil)
