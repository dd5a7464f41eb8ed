// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usb

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// Config holds the parameters for a bus watcher.
type Config struct {
	// Exclude lists block device names (without /dev/) that must
	// never be reported: the rig host's own disks. Required to be
	// non-empty — running a flasher with no exclusions on a host
	// whose root disk is USB-attached would be destructive.
	Exclude []string

	// SysRoot overrides the sysfs mount point for tests. Defaults
	// to "/sys".
	SysRoot string

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Watcher subscribes to kernel uevents and reports attach/detach of
// boot-ROM drives and whole-disk block devices.
type Watcher struct {
	fd       int
	classify classifier
	logger   *slog.Logger

	events chan Event
	errors chan error

	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

// kernelUeventGroup is the netlink multicast group the kernel
// broadcasts raw uevents on (group 2 carries udev's processed
// stream).
const kernelUeventGroup = 1

// NewWatcher opens the uevent netlink socket. Call Start to begin
// event delivery and Stop to tear down.
func NewWatcher(cfg Config) (*Watcher, error) {
	if len(cfg.Exclude) == 0 {
		return nil, fmt.Errorf("usb: Exclude must list the host's own disks")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("usb: Logger is required")
	}
	sysRoot := cfg.SysRoot
	if sysRoot == "" {
		sysRoot = "/sys"
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC,
		unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("usb: opening uevent socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: kernelUeventGroup,
	}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("usb: binding uevent socket: %w", err)
	}

	exclude := make(map[string]bool, len(cfg.Exclude))
	for _, name := range cfg.Exclude {
		exclude[name] = true
	}

	return &Watcher{
		fd:       fd,
		classify: classifier{sysRoot: sysRoot, exclude: exclude},
		logger:   cfg.Logger,
		events:   make(chan Event, 16),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

// Start begins reading the socket and delivering events. Call once.
func (w *Watcher) Start() {
	go w.readLoop()
}

// Events delivers classified attach/detach events. The channel closes
// after Stop.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors delivers the first fatal socket error, if any.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Stop tears down the socket and closes the event channel. Safe to
// call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		// Closing the fd unblocks the pending Recvfrom.
		err = unix.Close(w.fd)
		<-w.finished
	})
	return err
}

// readLoop reads datagrams until the socket is closed.
func (w *Watcher) readLoop() {
	defer close(w.finished)
	defer close(w.events)

	buffer := make([]byte, 16*1024)
	for {
		n, _, err := unix.Recvfrom(w.fd, buffer, 0)
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			if err == unix.EINTR {
				continue
			}
			w.logger.Error("uevent socket read failed", "error", err)
			select {
			case w.errors <- fmt.Errorf("usb: reading uevent socket: %w", err):
			default:
			}
			return
		}

		raw, ok := parseUevent(buffer[:n])
		if !ok {
			continue
		}
		event, ok := w.classify.classify(raw)
		if !ok {
			continue
		}
		w.logger.Debug("usb event",
			"action", event.Action,
			"kind", event.Drive.Kind,
			"devpath", event.Drive.DevPath,
			"description", event.Drive.Description,
		)
		select {
		case w.events <- event:
		case <-w.done:
			return
		}
	}
}
