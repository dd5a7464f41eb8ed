// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rig

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/testrig/lib/clock"
)

// Config holds the parameters for opening a rig controller.
type Config struct {
	// PortPath is the serial device node of the rig MCU,
	// e.g. /dev/ttyACM0. Required.
	PortPath string

	// DUTSerialPath is the serial device node wired to the DUT's
	// console UART. Optional; OpenDUTSerial fails if unset.
	DUTSerialPath string

	// Clock drives mux settle delays. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Controller implements Driver against the rig MCU over a serial
// port. It holds an exclusive flock on the port for its lifetime, so
// at most one process owns the rig.
//
// Controller is not safe for concurrent use beyond what Driver
// documents; an internal mutex serializes frames on the wire but
// callers must not interleave logically-ordered operations.
type Controller struct {
	port          *os.File
	dutSerialPath string
	clock         clock.Clock
	logger        *slog.Logger

	mu  sync.Mutex
	seq uint64

	serialMu sync.Mutex
	serial   *os.File
}

// Open opens the rig MCU serial port, configures it raw at 115200
// 8N1, and takes an exclusive advisory lock. A second Open of the
// same port (from this or any other process) fails immediately.
func Open(cfg Config) (*Controller, error) {
	if cfg.PortPath == "" {
		return nil, fmt.Errorf("rig: PortPath is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("rig: Logger is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	port, err := openSerial(cfg.PortPath)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(port.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		port.Close()
		return nil, fmt.Errorf("rig: locking %s (another process owns the rig?): %w",
			cfg.PortPath, err)
	}

	cfg.Logger.Info("rig controller opened", "port", cfg.PortPath)

	return &Controller{
		port:          port,
		dutSerialPath: cfg.DUTSerialPath,
		clock:         clk,
		logger:        cfg.Logger,
	}, nil
}

// openSerial opens a tty raw at 115200 8N1. The descriptor is opened
// non-blocking so the runtime poller manages it and read deadlines
// work.
func openSerial(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("rig: opening %s: %w", path, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rig: reading termios for %s: %w", path, err)
	}

	// Raw mode: no line discipline, no echo, no flow control, 8N1.
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.B115200
	termios.Ispeed = unix.B115200
	termios.Ospeed = unix.B115200
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rig: configuring %s: %w", path, err)
	}

	return os.NewFile(uintptr(fd), path), nil
}

// Close releases the DUT serial capture (if open), the port lock, and
// the port itself.
func (c *Controller) Close() error {
	c.CloseDUTSerial()
	err := c.port.Close()
	if err != nil {
		return fmt.Errorf("rig: closing port: %w", err)
	}
	c.logger.Info("rig controller closed")
	return nil
}

// roundTrip sends one request and reads frames until the matching
// sequence number arrives. Stale frames (responses to a previous
// deadline-abandoned request) are logged and discarded. The port read
// deadline tracks ctx's deadline; pure cancellation is checked between
// frames, since an MCU round-trip completes in milliseconds.
func (c *Controller) roundTrip(ctx context.Context, req request) (response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return response{}, err
	}

	req.Seq = c.seq
	c.seq++

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.port.SetDeadline(deadline); err != nil {
		return response{}, fmt.Errorf("rig: setting port deadline: %w", err)
	}

	if err := writeFrame(c.port, req); err != nil {
		return response{}, fmt.Errorf("rig: %s: %w", req.Op, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return response{}, err
		}
		var resp response
		if err := readFrame(c.port, &resp); err != nil {
			if os.IsTimeout(err) && ctx.Err() != nil {
				return response{}, ctx.Err()
			}
			return response{}, fmt.Errorf("rig: %s: %w", req.Op, err)
		}
		if resp.Seq != req.Seq {
			c.logger.Warn("discarding stale rig frame",
				"want_seq", req.Seq, "got_seq", resp.Seq)
			continue
		}
		if resp.Fault != "" {
			return response{}, fmt.Errorf("rig: %s: MCU fault: %s", req.Op, resp.Fault)
		}
		return resp, nil
	}
}

// SetVout sets the DUT voltage rail.
func (c *Controller) SetVout(ctx context.Context, volts float64) error {
	c.logger.Debug("set vout", "volts", volts)
	_, err := c.roundTrip(ctx, request{Op: opSetVout, Volts: volts})
	return err
}

// PowerOnDUT connects the rail and releases reset.
func (c *Controller) PowerOnDUT(ctx context.Context) error {
	c.logger.Debug("power on DUT")
	_, err := c.roundTrip(ctx, request{Op: opPowerOn})
	return err
}

// PowerOffDUT removes DUT power.
func (c *Controller) PowerOffDUT(ctx context.Context) error {
	c.logger.Debug("power off DUT")
	_, err := c.roundTrip(ctx, request{Op: opPowerOff})
	return err
}

// SwitchSDToDUT routes the boot media to the DUT and holds for settle.
func (c *Controller) SwitchSDToDUT(ctx context.Context, settle time.Duration) error {
	c.logger.Debug("mux media to DUT", "settle", settle)
	if _, err := c.roundTrip(ctx, request{Op: opMuxToDUT}); err != nil {
		return err
	}
	return clock.Wait(ctx, c.clock, settle)
}

// SwitchSDToHost routes the boot media to the host and holds for
// settle.
func (c *Controller) SwitchSDToHost(ctx context.Context, settle time.Duration) error {
	c.logger.Debug("mux media to host", "settle", settle)
	if _, err := c.roundTrip(ctx, request{Op: opMuxToHost}); err != nil {
		return err
	}
	return clock.Wait(ctx, c.clock, settle)
}

// ReadVoutAmperage samples the rail current.
func (c *Controller) ReadVoutAmperage(ctx context.Context) (float64, error) {
	resp, err := c.roundTrip(ctx, request{Op: opReadAmps})
	if err != nil {
		return 0, err
	}
	return resp.Amps, nil
}

// DigitalWrite drives a rig GPIO line.
func (c *Controller) DigitalWrite(ctx context.Context, pin int, level bool) error {
	c.logger.Debug("digital write", "pin", pin, "level", level)
	_, err := c.roundTrip(ctx, request{Op: opDigitalWrite, Pin: pin, Level: level})
	return err
}

// OpenDUTSerial opens the DUT console UART raw at 115200 and returns
// the byte stream.
func (c *Controller) OpenDUTSerial(ctx context.Context) (io.ReadCloser, error) {
	c.serialMu.Lock()
	defer c.serialMu.Unlock()

	if c.serial != nil {
		return nil, fmt.Errorf("rig: DUT serial capture already open")
	}
	// The controller never opens the console path itself, so an empty
	// path is a configuration error surfaced here rather than at Open.
	path := c.dutSerialPath
	if path == "" {
		return nil, fmt.Errorf("rig: no DUT serial path configured")
	}
	serial, err := openSerial(path)
	if err != nil {
		return nil, err
	}
	c.serial = serial
	c.logger.Info("DUT serial capture started", "port", path)
	return serial, nil
}

// CloseDUTSerial stops the serial capture. No-op when none is open.
func (c *Controller) CloseDUTSerial() error {
	c.serialMu.Lock()
	defer c.serialMu.Unlock()

	if c.serial == nil {
		return nil
	}
	err := c.serial.Close()
	c.serial = nil
	if err != nil {
		return fmt.Errorf("rig: closing DUT serial: %w", err)
	}
	c.logger.Info("DUT serial capture stopped")
	return nil
}

// Flash streams an image through the MCU to the host-muxed media in
// flashChunkSize pieces, each acknowledged before the next is sent.
// Progress is logged every 64 MiB.
func (c *Controller) Flash(ctx context.Context, source io.Reader) error {
	if _, err := c.roundTrip(ctx, request{Op: opFlashBegin}); err != nil {
		return err
	}

	buffer := make([]byte, flashChunkSize)
	var written int64
	var lastLogged int64
	for {
		n, err := io.ReadFull(source, buffer)
		if n > 0 {
			if _, sendErr := c.roundTrip(ctx, request{Op: opFlashChunk, Data: buffer[:n]}); sendErr != nil {
				return sendErr
			}
			written += int64(n)
			if written-lastLogged >= 64*1024*1024 {
				c.logger.Info("flash progress", "written", written)
				lastLogged = written
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("rig: reading image: %w", err)
		}
	}

	if _, err := c.roundTrip(ctx, request{Op: opFlashEnd}); err != nil {
		return err
	}
	c.logger.Info("flash complete", "written", written)
	return nil
}

// FlashToDisk streams an image directly to a host block device node,
// then syncs. Used for re-enumerated compute modules, which appear as
// ordinary disks on the rig host.
func (c *Controller) FlashToDisk(ctx context.Context, devNode string, source io.Reader) error {
	disk, err := os.OpenFile(devNode, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("rig: opening %s: %w", devNode, err)
	}
	defer disk.Close()

	// 1 MiB writes: large enough to keep the device's write pipeline
	// full, aligned for kernels that punish sub-block tears.
	buffer := make([]byte, 1024*1024)
	var written int64
	var lastLogged int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(source, buffer)
		if n > 0 {
			if _, writeErr := disk.Write(buffer[:n]); writeErr != nil {
				return fmt.Errorf("rig: writing %s: %w", devNode, writeErr)
			}
			written += int64(n)
			if written-lastLogged >= 64*1024*1024 {
				c.logger.Info("disk flash progress", "device", devNode, "written", written)
				lastLogged = written
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("rig: reading image: %w", err)
		}
	}

	if err := disk.Sync(); err != nil {
		return fmt.Errorf("rig: syncing %s: %w", devNode, err)
	}
	c.logger.Info("disk flash complete", "device", devNode, "written", written)
	return nil
}
