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

// Package flasher writes a CC2 firmware build to an ESP32-S3 through an
// external esptool binary.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/helpers/command"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultTool     = "esptool"
	DefaultChip     = "esp32s3"
	DefaultBaudRate = 921600
)

var (
	ErrMissingDir   = errors.New("firmware directory not found")
	ErrMissingFiles = errors.New("missing firmware files")
	ErrToolNotFound = errors.New("flashing tool not found")
	ErrToolFailed   = errors.New("flashing failed")
)

// Image is one file of a firmware build and where it lands in flash.
type Image struct {
	Name   string
	Offset uint32
}

// FileSet is the four images a CC2 build is made of, in write order.
type FileSet struct {
	Bootloader  Image
	Partitions  Image
	Application Image
	Filesystem  Image
}

func DefaultFileSet() FileSet {
	return FileSet{
		Bootloader:  Image{Name: "CC2_Operation.ino.bootloader.bin", Offset: 0x0000},
		Partitions:  Image{Name: "CC2_Operation.ino.partitions.bin", Offset: 0x8000},
		Application: Image{Name: "CC2_Operation.ino.bin", Offset: 0x10000},
		Filesystem:  Image{Name: "CC2_Operation.ino.filesystem.bin", Offset: 0x210000},
	}
}

func (s FileSet) Images() []Image {
	return []Image{s.Bootloader, s.Partitions, s.Application, s.Filesystem}
}

type Options struct {
	Tool     string
	Chip     string
	Files    FileSet
	BaudRate int
}

// Result is the outcome of a flash attempt. Message is meant for the
// operator and carries the tool's own diagnostic text on failure.
type Result struct {
	Err      error
	Message  string
	Missing  []string
	Duration time.Duration
	Success  bool
}

type FileInfo struct {
	Name   string
	Size   int64
	Offset uint32
	Exists bool
}

type FirmwareInfo struct {
	Dir       string
	Files     []FileInfo
	DirExists bool
}

// Ready reports whether every image is present and non-empty.
func (i FirmwareInfo) Ready() bool {
	if !i.DirExists {
		return false
	}
	for _, f := range i.Files {
		if !f.Exists || f.Size == 0 {
			return false
		}
	}
	return true
}

type Flasher struct {
	exec command.Executor
	fs   afero.Fs
	opts Options
}

func New(exec command.Executor, fs afero.Fs, opts Options) *Flasher {
	if opts.Tool == "" {
		opts.Tool = DefaultTool
	}
	if opts.Chip == "" {
		opts.Chip = DefaultChip
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.Files == (FileSet{}) {
		opts.Files = DefaultFileSet()
	}
	return &Flasher{exec: exec, fs: fs, opts: opts}
}

// Flash writes the firmware in dir to the board on port. It does not
// retry. Missing or empty images fail before the tool is started.
func (f *Flasher) Flash(ctx context.Context, port, dir string) Result {
	start := time.Now()
	res := f.flash(ctx, port, dir)
	res.Duration = time.Since(start)

	if res.Success {
		log.Info().Str("port", port).Dur("took", res.Duration).Msg("flash completed")
	} else {
		log.Warn().Err(res.Err).Str("port", port).Msg("flash failed")
	}
	return res
}

func (f *Flasher) flash(ctx context.Context, port, dir string) Result {
	if ok, _ := afero.DirExists(f.fs, dir); !ok {
		err := fmt.Errorf("%w: %s", ErrMissingDir, dir)
		return Result{Err: err, Message: "Firmware directory not found: " + dir}
	}

	missing := f.Missing(dir)
	if len(missing) > 0 {
		err := fmt.Errorf("%w: %s", ErrMissingFiles, strings.Join(missing, ", "))
		return Result{
			Err:     err,
			Missing: missing,
			Message: "Missing firmware files: " + strings.Join(missing, ", "),
		}
	}

	args := f.Args(port, dir)
	log.Info().Str("tool", f.opts.Tool).Strs("args", args).Msg("flashing device")

	out, err := f.exec.Capture(ctx, f.opts.Tool, args...)
	switch {
	case err == nil:
		return Result{Success: true, Message: "Flashing completed successfully!"}
	case command.IsNotFound(err):
		return Result{
			Err: fmt.Errorf("%w: %s: %w", ErrToolNotFound, f.opts.Tool, err),
			Message: f.opts.Tool + " command not found. Please install esptool " +
				"or set flasher.tool in the config file.",
		}
	case ctx.Err() != nil:
		return Result{
			Err:     fmt.Errorf("%w: %w", ErrToolFailed, ctx.Err()),
			Message: "Flashing canceled",
		}
	default:
		diag := strings.TrimSpace(out.Diagnostic())
		if diag == "" {
			diag = err.Error()
		}
		return Result{
			Err:     fmt.Errorf("%w: exit code %d: %w", ErrToolFailed, command.ExitCode(err), err),
			Message: "Flashing failed: " + diag,
		}
	}
}

// Args builds the tool arguments for port with the images under dir.
func (f *Flasher) Args(port, dir string) []string {
	args := []string{
		"--chip", f.opts.Chip,
		"--port", port,
		"--baud", strconv.Itoa(f.opts.BaudRate),
		"--before", "default-reset",
		"--after", "hard-reset",
		"write-flash", "-z",
	}
	for _, img := range f.opts.Files.Images() {
		args = append(args, fmt.Sprintf("0x%04x", img.Offset), filepath.Join(dir, img.Name))
	}
	return args
}

// Missing lists the images under dir that are absent or empty, in write
// order.
func (f *Flasher) Missing(dir string) []string {
	var missing []string
	for _, img := range f.opts.Files.Images() {
		st, err := f.fs.Stat(filepath.Join(dir, img.Name))
		if err != nil || st.IsDir() || st.Size() == 0 {
			missing = append(missing, img.Name)
		}
	}
	return missing
}

// Available reports whether the flashing tool can be started.
func (f *Flasher) Available(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := f.exec.Capture(cctx, f.opts.Tool, "version"); err != nil {
		log.Debug().Err(err).Str("tool", f.opts.Tool).Msg("flashing tool unavailable")
		return false
	}
	return true
}

// Info describes the images found under dir.
func (f *Flasher) Info(dir string) FirmwareInfo {
	info := FirmwareInfo{Dir: dir}
	info.DirExists, _ = afero.DirExists(f.fs, dir)

	for _, img := range f.opts.Files.Images() {
		fi := FileInfo{Name: img.Name, Offset: img.Offset}
		if info.DirExists {
			st, err := f.fs.Stat(filepath.Join(dir, img.Name))
			if err == nil && !st.IsDir() {
				fi.Exists = true
				fi.Size = st.Size()
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Debug().Err(err).Str("file", img.Name).Msg("cannot stat firmware image")
			}
		}
		info.Files = append(info.Files, fi)
	}
	return info
}
