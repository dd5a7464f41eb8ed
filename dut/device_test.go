// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/testrig/image"
	"github.com/bureau-foundation/testrig/lib/clock"
	"github.com/bureau-foundation/testrig/lib/testutil"
	"github.com/bureau-foundation/testrig/probe"
	"github.com/bureau-foundation/testrig/rig"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// fixture wires a Device to a recording fake driver and a manual
// clock.
type fixture struct {
	fake *rig.Fake
	clk  *clock.ManualClock
	dev  *Device
}

// newFixture builds a fixture for family, filling in the fake driver,
// manual clock, and discard logger. The caller sets probes, hub, and
// watcher on cfg first where the family needs them.
func newFixture(t *testing.T, family Family, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		fake: rig.NewFake(),
		clk:  clock.Manual(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)),
	}
	cfg.Driver = f.fake
	cfg.Clock = f.clk
	cfg.Logger = discard()

	dev, err := New(family, cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", family, err)
	}
	f.dev = dev
	return f
}

// drive advances the clock by step whenever the machine under test
// parks on it, standing in for the passage of real time. The
// goroutine leaks a blocked cond wait when the test ends; each test
// owns its clock so there is no cross-talk.
func (f *fixture) drive(step time.Duration) {
	go func() {
		for {
			f.clk.BlockUntil(1)
			f.clk.Advance(step)
		}
	}()
}

// testSource returns an image source over literal contents.
func testSource(t *testing.T, contents string) *image.Source {
	t.Helper()
	source, err := image.NewSource(io.NopCloser(strings.NewReader(contents)), "test.img")
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	return source
}

// assertOps compares the fake's recorded sequence to want.
func assertOps(t *testing.T, fake *rig.Fake, want []string) {
	t.Helper()
	got := fake.Ops()
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ops[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestVoltageMatchesCatalog(t *testing.T) {
	want := map[Family]float64{
		RaspberryPi3:    5,
		RaspberryPi4:    5,
		BeagleBoneBlack: 5,
		ASUSTinker:      5,
		RockPro64:       12,
		IoTGate:         24,
		VarSomMX6:       5,
		TS4900:          5,
		JN30B:           12,
		IMX8MM:          5,
		FinCM3:          5,
		FinCM3V10:       12,
		RevPiCore3:      12,
		IntelNUC:        12,
		JetsonTX2:       5,
	}
	if len(want) != len(Families()) {
		t.Fatalf("catalog has %d families, test covers %d", len(Families()), len(want))
	}
	for family, voltage := range want {
		cfg := Config{}
		if profile, _ := LookupProfile(family); profile.strategy == flashUSBBoot {
			cfg.Hub = &fakeHub{}
			cfg.Watcher = func(ctx context.Context) (USBEvents, error) { return nil, nil }
		}
		f := newFixture(t, family, cfg)
		if got := f.dev.Voltage(); got != voltage {
			t.Errorf("%s: Voltage() = %v, want %v", family, got, voltage)
		}
	}
}

func TestNewRejectsUnknownFamily(t *testing.T) {
	_, err := New("speakandspell", Config{Driver: rig.NewFake(), Logger: discard()})
	if !errors.Is(err, ErrUnknownFamily) {
		t.Errorf("New(unknown) error = %v, want ErrUnknownFamily", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(RaspberryPi3, Config{Logger: discard()}); err == nil {
		t.Error("New without Driver succeeded")
	}
	if _, err := New(RaspberryPi3, Config{Driver: rig.NewFake()}); err == nil {
		t.Error("New without Logger succeeded")
	}
	// USB-boot families cannot run without hub and watcher.
	if _, err := New(FinCM3, Config{Driver: rig.NewFake(), Logger: discard()}); err == nil {
		t.Error("New(fincm3) without Hub/Watcher succeeded")
	}
}

func TestRaspberryPiPowerOnSequence(t *testing.T) {
	f := newFixture(t, RaspberryPi3, Config{})

	if err := f.dev.PowerOn(context.Background()); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	assertOps(t, f.fake, []string{"setVout(5)", "switchSdToDUT(1s)", "powerOnDUT"})
}

func TestBeagleBonePrePowerSettle(t *testing.T) {
	f := newFixture(t, BeagleBoneBlack, Config{})
	f.drive(time.Second)

	done := make(chan error, 1)
	go func() { done <- f.dev.PowerOn(context.Background()) }()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "power-on"); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	assertOps(t, f.fake, []string{"setVout(5)", "switchSdToDUT(1s)", "powerOnDUT"})
}

func TestJetsonPowerOnPulsesRelay(t *testing.T) {
	f := newFixture(t, JetsonTX2, Config{})
	f.drive(time.Second)

	done := make(chan error, 1)
	go func() { done <- f.dev.PowerOn(context.Background()) }()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "power-on"); err != nil {
		t.Fatalf("PowerOn: %v", err)
	}
	assertOps(t, f.fake, []string{
		"setVout(5)", "powerOnDUT", "digitalWrite(7,true)", "digitalWrite(7,false)",
	})
}

func TestPowerOffStopsSerialThenCutsPower(t *testing.T) {
	f := newFixture(t, RaspberryPi3, Config{})

	if err := f.dev.PowerOff(context.Background()); err != nil {
		t.Fatalf("PowerOff: %v", err)
	}
	assertOps(t, f.fake, []string{"closeDutSerial", "powerOffDUT"})
}

func TestJetsonPowerOffForcesShutdownFirst(t *testing.T) {
	f := newFixture(t, JetsonTX2, Config{})
	f.drive(5 * time.Second)

	done := make(chan error, 1)
	go func() { done <- f.dev.PowerOff(context.Background()) }()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "power-off"); err != nil {
		t.Fatalf("PowerOff: %v", err)
	}
	assertOps(t, f.fake, []string{
		"closeDutSerial", "digitalWrite(7,true)", "digitalWrite(7,false)", "powerOffDUT",
	})
}

func TestFlashFileRejectsZipWithoutDriverCalls(t *testing.T) {
	for _, family := range []Family{RaspberryPi3, IntelNUC, VarSomMX6, JetsonTX2} {
		t.Run(string(family), func(t *testing.T) {
			f := newFixture(t, family, Config{})
			err := f.dev.FlashFile(context.Background(), "/images/resin.zip")
			if !errors.Is(err, image.ErrUnsupportedFormat) {
				t.Fatalf("FlashFile(.zip) error = %v, want ErrUnsupportedFormat", err)
			}
			if ops := f.fake.Ops(); len(ops) != 0 {
				t.Errorf("driver touched for a zip source: %v", ops)
			}
		})
	}
}

func TestDirectFlashWritesImage(t *testing.T) {
	f := newFixture(t, RaspberryPi4, Config{})
	contents := "raw image bytes"

	if err := f.dev.Flash(context.Background(), testSource(t, contents)); err != nil {
		t.Fatalf("Flash: %v", err)
	}
	assertOps(t, f.fake, []string{"flash"})
	if got := string(f.fake.Flashed()); got != contents {
		t.Errorf("flashed %q, want %q", got, contents)
	}
}

func TestConcurrentOperationReturnsErrBusy(t *testing.T) {
	// Park a two-phase flash in its unbounded boot wait, then try a
	// second operation.
	f := newFixture(t, VarSomMX6, Config{
		Probe: probe.NewScript("never", probe.Unavailable),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.dev.Flash(ctx, testSource(t, "flasher")) }()

	// The machine has parked on the clock: it is inside Flash.
	f.clk.BlockUntil(1)

	if err := f.dev.PowerOn(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("PowerOn during flash = %v, want ErrBusy", err)
	}

	cancel()
	err := testutil.RequireReceive(t, done, 5*time.Second, "cancelled flash")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Flash error = %v, want context.Canceled", err)
	}

	// The guard is released: the device is usable again.
	if err := f.dev.PowerOn(context.Background()); err != nil {
		t.Errorf("PowerOn after release: %v", err)
	}
}

// fakeHub records hub port power toggles.
type fakeHub struct {
	toggles []bool
	err     error
}

func (h *fakeHub) Power(ctx context.Context, on bool) error {
	h.toggles = append(h.toggles, on)
	return h.err
}
