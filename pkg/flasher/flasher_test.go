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

package flasher

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cannatrols/cc2-provisioner/pkg/helpers/command"
	"github.com/cannatrols/cc2-provisioner/pkg/testing/mocks"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const fwDir = "/firmware"

func writeImages(t *testing.T, fs afero.Fs, skip ...string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(fwDir, 0o750))
	for _, img := range DefaultFileSet().Images() {
		if contains(skip, img.Name) {
			continue
		}
		require.NoError(t, afero.WriteFile(fs, filepath.Join(fwDir, img.Name), []byte("image"), 0o600))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestFlash_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeImages(t, fs)

	exec := &mocks.MockCommandExecutor{}
	exec.On("Capture", mock.Anything, "esptool", []string{
		"--chip", "esp32s3",
		"--port", "/dev/ttyUSB0",
		"--baud", "921600",
		"--before", "default-reset",
		"--after", "hard-reset",
		"write-flash", "-z",
		"0x0000", filepath.Join(fwDir, "CC2_Operation.ino.bootloader.bin"),
		"0x8000", filepath.Join(fwDir, "CC2_Operation.ino.partitions.bin"),
		"0x10000", filepath.Join(fwDir, "CC2_Operation.ino.bin"),
		"0x210000", filepath.Join(fwDir, "CC2_Operation.ino.filesystem.bin"),
	}).Return(command.Captured{Stdout: []byte("Hard resetting via RTS pin...")}, nil)

	res := New(exec, fs, Options{}).Flash(context.Background(), "/dev/ttyUSB0", fwDir)

	assert.True(t, res.Success)
	require.NoError(t, res.Err)
	assert.Equal(t, "Flashing completed successfully!", res.Message)
	exec.AssertExpectations(t)
}

func TestFlash_MissingFilesFailFast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		skip []string
		want []string
	}{
		{
			name: "one missing",
			skip: []string{"CC2_Operation.ino.partitions.bin"},
			want: []string{"CC2_Operation.ino.partitions.bin"},
		},
		{
			name: "two missing in write order",
			skip: []string{"CC2_Operation.ino.filesystem.bin", "CC2_Operation.ino.bootloader.bin"},
			want: []string{"CC2_Operation.ino.bootloader.bin", "CC2_Operation.ino.filesystem.bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			writeImages(t, fs, tt.skip...)
			exec := &mocks.MockCommandExecutor{}

			res := New(exec, fs, Options{}).Flash(context.Background(), "/dev/ttyUSB0", fwDir)

			assert.False(t, res.Success)
			require.ErrorIs(t, res.Err, ErrMissingFiles)
			assert.Equal(t, tt.want, res.Missing)
			for _, name := range tt.want {
				assert.Contains(t, res.Message, name)
			}
			exec.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestFlash_EmptyImageCountsAsMissing(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeImages(t, fs)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(fwDir, "CC2_Operation.ino.bin"), nil, 0o600))
	exec := &mocks.MockCommandExecutor{}

	res := New(exec, fs, Options{}).Flash(context.Background(), "/dev/ttyUSB0", fwDir)

	require.ErrorIs(t, res.Err, ErrMissingFiles)
	assert.Equal(t, []string{"CC2_Operation.ino.bin"}, res.Missing)
	exec.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlash_MissingDirectory(t *testing.T) {
	t.Parallel()

	exec := &mocks.MockCommandExecutor{}
	res := New(exec, afero.NewMemMapFs(), Options{}).Flash(context.Background(), "/dev/ttyUSB0", "/nowhere")

	require.ErrorIs(t, res.Err, ErrMissingDir)
	assert.Contains(t, res.Message, "/nowhere")
	exec.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlash_ToolFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		captured    command.Captured
		err         error
		wantErr     error
		name        string
		wantMessage string
	}{
		{
			name:        "stderr preferred",
			captured:    command.Captured{Stdout: []byte("Connecting...."), Stderr: []byte("A fatal error occurred: Failed to connect")},
			err:         errors.New("exit status 2"),
			wantErr:     ErrToolFailed,
			wantMessage: "Flashing failed: A fatal error occurred: Failed to connect",
		},
		{
			name:        "stdout fallback",
			captured:    command.Captured{Stdout: []byte("Serial port /dev/ttyUSB0 busy")},
			err:         errors.New("exit status 1"),
			wantErr:     ErrToolFailed,
			wantMessage: "Flashing failed: Serial port /dev/ttyUSB0 busy",
		},
		{
			name:        "no output",
			err:         errors.New("signal: killed"),
			wantErr:     ErrToolFailed,
			wantMessage: "Flashing failed: signal: killed",
		},
		{
			name:        "tool not installed",
			err:         &exec.Error{Name: "esptool", Err: exec.ErrNotFound},
			wantErr:     ErrToolNotFound,
			wantMessage: "esptool command not found.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			writeImages(t, fs)
			mockExec := &mocks.MockCommandExecutor{}
			mockExec.On("Capture", mock.Anything, "esptool", mock.Anything).Return(tt.captured, tt.err)

			res := New(mockExec, fs, Options{}).Flash(context.Background(), "/dev/ttyUSB0", fwDir)

			assert.False(t, res.Success)
			require.ErrorIs(t, res.Err, tt.wantErr)
			assert.Contains(t, res.Message, tt.wantMessage)
		})
	}
}

func TestFlash_CustomOptions(t *testing.T) {
	t.Parallel()

	f := New(&mocks.MockCommandExecutor{}, afero.NewMemMapFs(), Options{
		Tool:     "/opt/esptool/bin/esptool",
		Chip:     "esp32",
		BaudRate: 460800,
	})

	args := f.Args("COM5", `C:\fw`)
	assert.Equal(t, []string{"--chip", "esp32"}, args[:2])
	assert.Equal(t, "460800", args[5])
	assert.Equal(t, "0x0000", args[12])
	assert.Equal(t, "0x210000", args[18])
}

func TestAvailable(t *testing.T) {
	t.Parallel()

	ok := &mocks.MockCommandExecutor{}
	ok.On("Capture", mock.Anything, "esptool", []string{"version"}).
		Return(command.Captured{Stdout: []byte("esptool v5.0.2")}, nil)
	assert.True(t, New(ok, afero.NewMemMapFs(), Options{}).Available(context.Background()))

	missing := &mocks.MockCommandExecutor{}
	missing.On("Capture", mock.Anything, "esptool", []string{"version"}).
		Return(command.Captured{}, exec.ErrNotFound)
	assert.False(t, New(missing, afero.NewMemMapFs(), Options{}).Available(context.Background()))
}

func TestInfo(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeImages(t, fs, "CC2_Operation.ino.filesystem.bin")
	f := New(&mocks.MockCommandExecutor{}, fs, Options{})

	info := f.Info(fwDir)
	assert.True(t, info.DirExists)
	require.Len(t, info.Files, 4)
	assert.True(t, info.Files[0].Exists)
	assert.Equal(t, int64(5), info.Files[0].Size)
	assert.Equal(t, uint32(0x8000), info.Files[1].Offset)
	assert.False(t, info.Files[3].Exists)
	assert.False(t, info.Ready())

	require.NoError(t, afero.WriteFile(fs, filepath.Join(fwDir, "CC2_Operation.ino.filesystem.bin"), []byte("fs"), 0o600))
	assert.True(t, f.Info(fwDir).Ready())

	absent := f.Info("/absent")
	assert.False(t, absent.DirExists)
	assert.Len(t, absent.Files, 4)
	assert.False(t, absent.Ready())
}
