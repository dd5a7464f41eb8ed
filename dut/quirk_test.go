// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import (
	"errors"
	"testing"
	"time"
)

func TestParseQuirksAcceptsComments(t *testing.T) {
	quirks, err := ParseQuirks([]byte(`{
		// per-rig overrides for bench 3
		"families": {
			"fincm3": {
				"usb_settle": "8s", // rev C carrier drains slowly
				"voltage": 5.1,
			},
			"intelnuc": {
				"off_poll_interval": "2s",
			},
		},
	}`))
	if err != nil {
		t.Fatalf("ParseQuirks: %v", err)
	}

	profile, timing, err := quirks.Apply(FinCM3, DefaultTiming())
	if err != nil {
		t.Fatalf("Apply(fincm3): %v", err)
	}
	if profile.Voltage != 5.1 {
		t.Errorf("voltage = %v, want 5.1", profile.Voltage)
	}
	if profile.USBSettle != 8*time.Second {
		t.Errorf("usb settle = %v, want 8s", profile.USBSettle)
	}
	// Untouched fields keep the catalog values.
	if timing.GracePeriod != DefaultTiming().GracePeriod {
		t.Errorf("grace period = %v, want %v", timing.GracePeriod, DefaultTiming().GracePeriod)
	}

	_, timing, err = quirks.Apply(IntelNUC, DefaultTiming())
	if err != nil {
		t.Fatalf("Apply(intelnuc): %v", err)
	}
	if timing.OffPollInterval != 2*time.Second {
		t.Errorf("off poll = %v, want 2s", timing.OffPollInterval)
	}
}

func TestParseQuirksRejectsUnknownFamily(t *testing.T) {
	_, err := ParseQuirks([]byte(`{"families": {"speakandspell": {"voltage": 9}}}`))
	if !errors.Is(err, ErrUnknownFamily) {
		t.Errorf("ParseQuirks error = %v, want ErrUnknownFamily", err)
	}
}

func TestParseQuirksRejectsBadDuration(t *testing.T) {
	cases := []string{
		`{"families": {"fincm3": {"usb_settle": "eight seconds"}}}`,
		`{"families": {"fincm3": {"usb_settle": "-5s"}}}`,
		`{"families": {"fincm3": {"usb_settle": 8}}}`,
	}
	for _, input := range cases {
		if _, err := ParseQuirks([]byte(input)); err == nil {
			t.Errorf("ParseQuirks(%s) succeeded, want error", input)
		}
	}
}

func TestApplyWithoutOverrideIsIdentity(t *testing.T) {
	quirks := &Quirks{}
	profile, timing, err := quirks.Apply(RockPro64, DefaultTiming())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if profile.Voltage != 12 {
		t.Errorf("voltage = %v, want 12", profile.Voltage)
	}
	if timing != DefaultTiming() {
		t.Errorf("timing = %+v, want defaults", timing)
	}
}

func TestApplyRejectsUnknownFamily(t *testing.T) {
	quirks := &Quirks{}
	if _, _, err := quirks.Apply("speakandspell", DefaultTiming()); !errors.Is(err, ErrUnknownFamily) {
		t.Errorf("Apply(unknown) error = %v, want ErrUnknownFamily", err)
	}
}
