// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package usb watches the rig host's USB bus for the two drive
// classes compute-module flashing cares about: boot-ROM devices (a
// module's mask ROM presenting itself before any firmware runs) and
// whole-disk block devices (the same module re-enumerated as mass
// storage, ready to be written).
//
// The watcher subscribes to kernel uevents over a
// NETLINK_KOBJECT_UEVENT socket — the raw kernel broadcast, not the
// udev-enriched stream, so classification uses only fields the kernel
// itself provides plus sysfs reads. Host system disks are filtered
// out by name so a bug can never hand the flasher the rig's own root
// drive.
package usb
