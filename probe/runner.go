// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a local command and returns its standard output.
// The shell-backed probes (carrier, GPIO) and the hub power switch go
// through a Runner so tests can substitute scripted output and so a
// hung command is bounded by ctx rather than hanging a poll loop.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. The zero value is ready to
// use.
type ExecRunner struct{}

// Run executes name with args and returns stdout. On failure the
// error includes the command line and any stderr the process wrote,
// since "exit status 1" alone is useless in a flashing log.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	output, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) && len(exit.Stderr) > 0 {
			return nil, fmt.Errorf("probe: %s %s: %w: %s",
				name, strings.Join(args, " "), err, strings.TrimSpace(string(exit.Stderr)))
		}
		return nil, fmt.Errorf("probe: %s %s: %w", name, strings.Join(args, " "), err)
	}
	return output, nil
}
