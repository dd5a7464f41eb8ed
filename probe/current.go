// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"fmt"
	"log/slog"
)

// AmperageSource reads the instantaneous current draw on the DUT
// voltage rail. The rig driver satisfies this.
type AmperageSource interface {
	ReadVoutAmperage(ctx context.Context) (float64, error)
}

// CurrentThresholdProbe maps rail current to a power state with a
// single cutoff: above the threshold the DUT is drawing power and
// therefore On. The Intel NUC's flasher image powers the box off when
// it finishes, so current falling to the threshold is the completion
// signal.
type CurrentThresholdProbe struct {
	source    AmperageSource
	threshold float64
	logger    *slog.Logger
}

// NewCurrentThreshold returns a probe reading On while draw exceeds
// threshold amps.
func NewCurrentThreshold(source AmperageSource, threshold float64, logger *slog.Logger) *CurrentThresholdProbe {
	return &CurrentThresholdProbe{source: source, threshold: threshold, logger: logger}
}

// Read samples the rail.
func (p *CurrentThresholdProbe) Read(ctx context.Context) Reading {
	amps, err := p.source.ReadVoutAmperage(ctx)
	if err != nil {
		p.logger.Debug("amperage read failed", "error", err)
		return Unavailable
	}
	if amps > p.threshold {
		return On
	}
	return Off
}

// Describe names the signal.
func (p *CurrentThresholdProbe) Describe() string {
	return fmt.Sprintf("current>%.2fA", p.threshold)
}

// CurrentWindowProbe maps rail current to a power state through a
// plausibility window. The rail sensor glitches during voltage
// transients — samples of hundreds of amps, or negative — and a
// glitch must not read as a live DUT. On means the draw sits inside
// [floor, ceiling); below the floor is Off; at or past the ceiling
// the sample is implausible and reads Unavailable.
type CurrentWindowProbe struct {
	source  AmperageSource
	floor   float64
	ceiling float64
	logger  *slog.Logger
}

// NewCurrentWindow returns a probe reading On inside [floor, ceiling)
// amps.
func NewCurrentWindow(source AmperageSource, floor, ceiling float64, logger *slog.Logger) *CurrentWindowProbe {
	return &CurrentWindowProbe{source: source, floor: floor, ceiling: ceiling, logger: logger}
}

// Read samples the rail.
func (p *CurrentWindowProbe) Read(ctx context.Context) Reading {
	amps, err := p.source.ReadVoutAmperage(ctx)
	if err != nil {
		p.logger.Debug("amperage read failed", "error", err)
		return Unavailable
	}
	switch {
	case amps >= p.ceiling:
		p.logger.Debug("amperage sample outside plausible window", "amps", amps)
		return Unavailable
	case amps >= p.floor:
		return On
	default:
		return Off
	}
}

// Describe names the signal.
func (p *CurrentWindowProbe) Describe() string {
	return fmt.Sprintf("current[%.2fA,%.2fA)", p.floor, p.ceiling)
}
