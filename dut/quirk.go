// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// Quirks are per-rig overrides of catalog timing and voltage,
// authored as a JSONC file so a rig's bring-up notes can live next to
// the values they explain:
//
//	{
//	  "families": {
//	    "fincm3": {
//	      // rev C carrier needs longer to drain the hub rail
//	      "usb_settle": "8s",
//	      "voltage": 5.1
//	    }
//	  }
//	}
//
// Overrides apply only to families the catalog knows; an unknown tag
// is a configuration error, not a new device.
type Quirks struct {
	Families map[Family]QuirkOverride `json:"families"`
}

// QuirkOverride is one family's adjustments. Nil fields keep the
// catalog value.
type QuirkOverride struct {
	Voltage *float64 `json:"voltage"`

	PrePowerSettle *quirkDuration `json:"pre_power_settle"`
	USBSettle      *quirkDuration `json:"usb_settle"`
	MuxSettle      *quirkDuration `json:"mux_settle"`

	GracePeriod        *quirkDuration `json:"grace_period"`
	BootPollInterval   *quirkDuration `json:"boot_poll_interval"`
	OffPollInterval    *quirkDuration `json:"off_poll_interval"`
	BlockAttachTimeout *quirkDuration `json:"block_attach_timeout"`
}

// quirkDuration parses Go duration syntax from a JSON string.
type quirkDuration time.Duration

func (d *quirkDuration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q is negative", text)
	}
	*d = quirkDuration(parsed)
	return nil
}

// LoadQuirks reads and validates a quirk file.
func LoadQuirks(path string) (*Quirks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dut: reading quirks: %w", err)
	}
	return ParseQuirks(data)
}

// ParseQuirks parses JSONC quirk data and validates every family tag
// against the catalog.
func ParseQuirks(data []byte) (*Quirks, error) {
	var quirks Quirks
	if err := json.Unmarshal(jsonc.ToJSON(data), &quirks); err != nil {
		return nil, fmt.Errorf("dut: parsing quirks: %w", err)
	}
	for family := range quirks.Families {
		if _, ok := catalog[family]; !ok {
			return nil, fmt.Errorf("dut: quirks: %w: %q", ErrUnknownFamily, family)
		}
	}
	return &quirks, nil
}

// Apply returns the family's catalog profile and the given timing
// with this rig's overrides folded in.
func (q *Quirks) Apply(family Family, timing Timing) (Profile, Timing, error) {
	profile, ok := catalog[family]
	if !ok {
		return Profile{}, Timing{}, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	override, ok := q.Families[family]
	if !ok {
		return profile, timing, nil
	}

	if override.Voltage != nil {
		profile.Voltage = *override.Voltage
	}
	if override.PrePowerSettle != nil {
		profile.PrePowerSettle = time.Duration(*override.PrePowerSettle)
	}
	if override.USBSettle != nil {
		profile.USBSettle = time.Duration(*override.USBSettle)
	}
	if override.MuxSettle != nil {
		timing.MuxSettle = time.Duration(*override.MuxSettle)
	}
	if override.GracePeriod != nil {
		timing.GracePeriod = time.Duration(*override.GracePeriod)
	}
	if override.BootPollInterval != nil {
		timing.BootPollInterval = time.Duration(*override.BootPollInterval)
	}
	if override.OffPollInterval != nil {
		timing.OffPollInterval = time.Duration(*override.OffPollInterval)
	}
	if override.BlockAttachTimeout != nil {
		timing.BlockAttachTimeout = time.Duration(*override.BlockAttachTimeout)
	}
	return profile, timing, nil
}
