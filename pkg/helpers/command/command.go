// CC2 Provisioner
// Copyright (c) 2025 The CC2 Provisioner Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of CC2 Provisioner.
//
// CC2 Provisioner is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// CC2 Provisioner is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with CC2 Provisioner.  If not, see <http://www.gnu.org/licenses/>.

// Package command wraps external tool invocation behind an interface so
// the udev, lsusb, rfcomm and esptool calls can be mocked in tests.
package command

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
)

// Captured holds the separated output streams of a finished command.
type Captured struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Diagnostic returns the most useful text for an operator: standard error
// when the tool wrote any, otherwise standard output.
func (c Captured) Diagnostic() string {
	if len(bytes.TrimSpace(c.Stderr)) > 0 {
		return string(c.Stderr)
	}
	return string(c.Stdout)
}

type Executor interface {
	// Run executes a command and waits for it to complete.
	// Returns an error if the command fails to start or exits with non-zero status.
	Run(ctx context.Context, name string, args ...string) error

	// Output runs a command and returns its standard output.
	// Returns the output bytes and an error if the command fails.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Capture runs a command and returns both output streams and the exit
	// code. A non-zero exit is reported through the returned error as an
	// *exec.ExitError; the streams are populated either way.
	Capture(ctx context.Context, name string, args ...string) (Captured, error)
}

type RealExecutor struct{}

func (*RealExecutor) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	applyPlatformAttrs(cmd)
	//nolint:wrapcheck // callers classify exec errors themselves
	return cmd.Run()
}

func (*RealExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	applyPlatformAttrs(cmd)
	//nolint:wrapcheck // callers classify exec errors themselves
	return cmd.Output()
}

func (*RealExecutor) Capture(ctx context.Context, name string, args ...string) (Captured, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	applyPlatformAttrs(cmd)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Captured{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	//nolint:wrapcheck // callers classify exec errors themselves
	return res, err
}

// IsNotFound reports whether err means the executable could not be located,
// either on PATH or at an absolute path.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// ExitCode extracts the exit status from an *exec.ExitError, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
