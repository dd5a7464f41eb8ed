// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies a drive the watcher reports.
type Kind uint8

const (
	// BootROM is a raw USB-boot-mode device: the module's mask ROM on
	// the bus, before any firmware has loaded. It has no block device
	// node; its only use is signaling that the module has entered its
	// bootloader.
	BootROM Kind = iota

	// BlockDevice is a whole-disk mass-storage device: a module that
	// has re-enumerated and can be written through its /dev node.
	BlockDevice
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case BootROM:
		return "boot-rom"
	case BlockDevice:
		return "block-device"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Drive is one device on the bus. A BootROM drive carries only its
// bus address in DevPath; a BlockDevice additionally has the /dev
// node to write and a human-readable Description assembled from the
// device's vendor and model strings.
type Drive struct {
	Kind        Kind
	DevPath     string
	DevNode     string
	Description string
}

// Action is the direction of a bus event.
type Action uint8

const (
	// Attach reports a drive arriving on the bus.
	Attach Action = iota

	// Detach reports a drive leaving the bus.
	Detach
)

// String returns the action name for logs.
func (a Action) String() string {
	if a == Attach {
		return "attach"
	}
	return "detach"
}

// Event is one attach or detach notification.
type Event struct {
	Action Action
	Drive  Drive
}

// bootROMProducts are the PRODUCT uevent values of known compute
// module mask ROMs (vendor/product in the kernel's stripped-hex
// form). Broadcom BCM2708/2710: the boot ROM of every Raspberry Pi
// compute module and its derivatives (balenaFin, RevPi).
var bootROMProducts = map[string]bool{
	"a5c/2763": true,
	"a5c/2764": true,
}

// uevent is one parsed kernel uevent message.
type uevent struct {
	action  string
	devpath string
	fields  map[string]string
}

// parseUevent parses a raw NETLINK_KOBJECT_UEVENT datagram:
// "action@devpath" followed by NUL-separated KEY=VALUE pairs. Returns
// false for malformed or libudev-tagged messages (which begin with
// "libudev" instead of an action).
func parseUevent(data []byte) (uevent, bool) {
	parts := strings.Split(string(data), "\x00")
	if len(parts) == 0 {
		return uevent{}, false
	}
	header := parts[0]
	at := strings.IndexByte(header, '@')
	if at <= 0 {
		return uevent{}, false
	}

	event := uevent{
		action:  header[:at],
		devpath: header[at+1:],
		fields:  make(map[string]string),
	}
	for _, part := range parts[1:] {
		if eq := strings.IndexByte(part, '='); eq > 0 {
			event.fields[part[:eq]] = part[eq+1:]
		}
	}
	return event, true
}

// classifier turns uevents into drive events, filtering everything
// that is neither a boot ROM nor an eligible whole disk.
type classifier struct {
	sysRoot string
	exclude map[string]bool
}

// classify maps one uevent to an Event. ok is false when the uevent
// is not about a drive class this package reports.
func (c *classifier) classify(event uevent) (Event, bool) {
	var action Action
	switch event.action {
	case "add":
		action = Attach
	case "remove":
		action = Detach
	default:
		return Event{}, false
	}

	switch event.fields["SUBSYSTEM"] {
	case "usb":
		if event.fields["DEVTYPE"] != "usb_device" {
			return Event{}, false
		}
		product := event.fields["PRODUCT"]
		// PRODUCT is "vendor/product/bcdDevice"; the boot ROM table
		// keys on the first two components.
		if slash := strings.LastIndexByte(product, '/'); slash > 0 {
			product = product[:slash]
		}
		if !bootROMProducts[product] {
			return Event{}, false
		}
		return Event{
			Action: action,
			Drive: Drive{
				Kind:    BootROM,
				DevPath: event.devpath,
			},
		}, true

	case "block":
		if event.fields["DEVTYPE"] != "disk" {
			return Event{}, false
		}
		name := event.fields["DEVNAME"]
		if name == "" || c.exclude[name] {
			return Event{}, false
		}
		return Event{
			Action: action,
			Drive: Drive{
				Kind:        BlockDevice,
				DevPath:     event.devpath,
				DevNode:     "/dev/" + name,
				Description: c.describe(event.devpath),
			},
		}, true

	default:
		return Event{}, false
	}
}

// describe assembles "vendor model" from the disk's SCSI device
// attributes in sysfs. Detach events and exotic buses yield "": by
// detach time the sysfs nodes are gone, and the flasher only matches
// descriptions on attach.
func (c *classifier) describe(devpath string) string {
	deviceDir := filepath.Join(c.sysRoot, devpath, "device")
	vendor := readSysString(filepath.Join(deviceDir, "vendor"))
	model := readSysString(filepath.Join(deviceDir, "model"))
	return strings.TrimSpace(vendor + " " + model)
}

// readSysString reads a single sysfs attribute, trimmed. Missing
// files read as "".
func readSysString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
