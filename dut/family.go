// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dut

import (
	"sort"
	"time"
)

// Family identifies a supported DUT hardware family.
type Family string

// The catalog. Tags are stable identifiers used in configuration,
// the CLI, and the history store.
const (
	RaspberryPi3    Family = "raspberrypi3"
	RaspberryPi4    Family = "raspberrypi4"
	BeagleBoneBlack Family = "beagleboneblack"
	ASUSTinker      Family = "asustinker"
	RockPro64       Family = "rockpro64"
	IoTGate         Family = "iotgate"
	VarSomMX6       Family = "varsommx6"
	TS4900          Family = "ts4900"
	JN30B           Family = "jn30b"
	IMX8MM          Family = "imx8mm"
	FinCM3          Family = "fincm3"
	FinCM3V10       Family = "fincm3v10"
	RevPiCore3      Family = "revpicore3"
	IntelNUC        Family = "intelnuc"
	JetsonTX2       Family = "jetsontx2"
)

// powerSequence selects a power-on ordering.
type powerSequence uint8

const (
	// seqSDBoot: voltage → mux media to DUT → power on. The board
	// boots whatever the rig put on the media.
	seqSDBoot powerSequence = iota

	// seqFlasher: voltage → mux media to host → power on. Ordinary
	// power-on of a flasher-family board keeps the media host-side;
	// the flashing path engages DUT-side boot explicitly.
	seqFlasher

	// seqFin: hub port off → settle → voltage → power on. The
	// compute module must come up with its USB port dark so a later
	// PowerOnFlash cycle lands it in ROM boot mode deterministically.
	seqFin

	// seqNUC: mux media to DUT → power on. The NUC supplies its own
	// rails; the rig only gates mains-side power.
	seqNUC

	// seqJetson: voltage → power on → short relay pulse. The TX2
	// carrier needs its power button pressed after the rail is live.
	seqJetson
)

// flashStrategy selects a flashing protocol.
type flashStrategy uint8

const (
	flashDirect flashStrategy = iota
	flashDirectCurrentWait
	flashTwoPhase
	flashUSBBoot
)

// completionSignal selects the default completion probe for families
// that wait on internal provisioning.
type completionSignal uint8

const (
	signalNone completionSignal = iota
	signalCarrier
	signalCurrentWindow
	signalGPIO
)

// Profile is one family's configuration record: the three axes
// (voltage, power-on sequencing, flash/completion strategy) plus the
// per-family constants the shared strategies consume.
type Profile struct {
	// Voltage is the rail level in volts, fixed at construction.
	Voltage float64

	sequence powerSequence
	strategy flashStrategy
	signal   completionSignal

	// PrePowerSettle is an extra hold before the power-on sequence
	// starts. Some boards latch brown-out if the rail is switched
	// too soon after the mux relays close.
	PrePowerSettle time.Duration

	// USBSettle is the hold between cutting hub power and starting
	// the PowerOnFlash re-enable sequence (USB-boot families).
	USBSettle time.Duration

	// voutBeforeHub flips the PowerOnFlash ordering: the RevPi
	// carrier wants the rail live before its hub port re-powers,
	// the Fin wants the opposite.
	voutBeforeHub bool

	// BlockSignature is the substring a re-enumerated block device's
	// description must contain to be accepted as this module.
	BlockSignature string

	// RelayPin is the rig GPIO driving the power-button relay
	// (Jetson). ShortPulse toggles power; LongPulse forces shutdown.
	RelayPin   int
	ShortPulse time.Duration
	LongPulse  time.Duration

	// GPIOLine is the sysfs GPIO carrying the board's power-state
	// signal (Jetson).
	GPIOLine int
}

// catalog maps every supported family to its profile. Flattened from
// what was once a deep inheritance chain: each row is complete on its
// own.
var catalog = map[Family]Profile{
	RaspberryPi3:    {Voltage: 5, sequence: seqSDBoot, strategy: flashDirect},
	RaspberryPi4:    {Voltage: 5, sequence: seqSDBoot, strategy: flashDirect},
	ASUSTinker:      {Voltage: 5, sequence: seqSDBoot, strategy: flashDirect},
	RockPro64:       {Voltage: 12, sequence: seqSDBoot, strategy: flashDirect},
	IoTGate:         {Voltage: 24, sequence: seqSDBoot, strategy: flashDirect},
	BeagleBoneBlack: {Voltage: 5, sequence: seqSDBoot, strategy: flashDirect, PrePowerSettle: 500 * time.Millisecond},

	VarSomMX6: {Voltage: 5, sequence: seqFlasher, strategy: flashTwoPhase, signal: signalCarrier},
	TS4900:    {Voltage: 5, sequence: seqFlasher, strategy: flashTwoPhase, signal: signalCarrier},
	JN30B:     {Voltage: 12, sequence: seqFlasher, strategy: flashTwoPhase, signal: signalCarrier},
	IMX8MM:    {Voltage: 5, sequence: seqFlasher, strategy: flashTwoPhase, signal: signalCurrentWindow},

	FinCM3: {Voltage: 5, sequence: seqFin, strategy: flashUSBBoot, signal: signalCarrier,
		USBSettle: 5 * time.Second, BlockSignature: "RPi-MSD"},
	FinCM3V10: {Voltage: 12, sequence: seqFin, strategy: flashUSBBoot, signal: signalCarrier,
		USBSettle: 10 * time.Second, BlockSignature: "RPi-MSD"},
	RevPiCore3: {Voltage: 12, sequence: seqFin, strategy: flashUSBBoot, signal: signalCarrier,
		USBSettle: 5 * time.Second, voutBeforeHub: true, BlockSignature: "RPi-MSD"},

	IntelNUC: {Voltage: 12, sequence: seqNUC, strategy: flashDirectCurrentWait},

	JetsonTX2: {Voltage: 5, sequence: seqJetson, strategy: flashTwoPhase, signal: signalGPIO,
		RelayPin: 7, ShortPulse: 500 * time.Millisecond, LongPulse: 10 * time.Second, GPIOLine: 392},
}

// currentWindow bounds for the IMX8MM completion probe: draw inside
// the window is a running board; at or above the ceiling the sensor
// is glitching and the sample carries no information.
const (
	currentWindowFloor   = 0.03
	currentWindowCeiling = 50.0
)

// nucIdleThreshold is the rail draw at or below which the NUC's
// flasher image is taken to have powered the box off.
const nucIdleThreshold = 0.1

// Families returns every catalog tag, sorted.
func Families() []Family {
	families := make([]Family, 0, len(catalog))
	for family := range catalog {
		families = append(families, family)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	return families
}

// LookupProfile returns the catalog profile for a family.
func LookupProfile(family Family) (Profile, bool) {
	profile, ok := catalog[family]
	return profile, ok
}

// FlashMethod names the profile's flashing strategy for display.
func (p Profile) FlashMethod() string {
	switch p.strategy {
	case flashDirect:
		return "sd-mux"
	case flashDirectCurrentWait:
		return "sd-mux+current-wait"
	case flashTwoPhase:
		return "two-phase"
	case flashUSBBoot:
		return "usb-boot"
	default:
		return "unknown"
	}
}
