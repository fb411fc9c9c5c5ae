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

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cannatrols/cc2-provisioner/internal/telemetry"
	"github.com/cannatrols/cc2-provisioner/pkg/config"
	"github.com/cannatrols/cc2-provisioner/pkg/helpers"
	"github.com/cannatrols/cc2-provisioner/pkg/printer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingValue = errors.New("flag requires a value")
	ErrFlashFailed  = errors.New("flash failed")
	ErrNotFound     = errors.New("not found")
	ErrBindFailed   = errors.New("bind failed")
)

type Flags struct {
	fs           *flag.FlagSet
	Identify     *string
	Flash        *string
	Print        *string
	BLEScan      *string
	Bind         *string
	DeviceInfo   *string
	Copies       *int
	Watch        *bool
	Ports        *bool
	FindPrinter  *bool
	Release      *bool
	Update       *bool
	FirmwareInfo *bool
	Debug        *bool
	Version      *bool
}

// SetupFlags defines the provisioner flags on fs. Pass flag.CommandLine
// from main.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		fs: fs,
		Watch: fs.Bool(
			"watch",
			false,
			"poll for adapters and report events until interrupted (default mode)",
		),
		Ports: fs.Bool(
			"ports",
			false,
			"list attached USB serial adapters and exit",
		),
		DeviceInfo: fs.String(
			"device-info",
			"",
			"show the udev properties of the given serial port",
		),
		Identify: fs.String(
			"identify",
			"",
			"read the board identity on the given serial port",
		),
		Flash: fs.String(
			"flash",
			"",
			"flash the firmware images to the board on the given serial port",
		),
		Print: fs.String(
			"print",
			"",
			"print identity labels for the given identity",
		),
		Copies: fs.Int(
			"copies",
			0,
			"number of labels to print (0 uses the configured count)",
		),
		FindPrinter: fs.Bool(
			"find-printer",
			false,
			"discover the label printer and bind the serial channel to it",
		),
		BLEScan: fs.String(
			"ble-scan",
			"",
			"scan BLE advertisements for a board advertising the given identity",
		),
		Bind: fs.String(
			"bind",
			"",
			"bind the serial channel to the given bluetooth address",
		),
		Release: fs.Bool(
			"release",
			false,
			"release the serial channel binding",
		),
		Update: fs.Bool(
			"update",
			false,
			"check for and install new firmware",
		),
		FirmwareInfo: fs.Bool(
			"firmware-info",
			false,
			"show the local firmware images and installed release",
		),
		Debug: fs.Bool(
			"debug",
			false,
			"enable debug logging",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
	}
}

func (f *Flags) isFlagPassed(name string) bool {
	found := false
	f.fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses args and actions any flags that don't need config or
// logging.
func (f *Flags) Pre(args []string) error {
	if err := f.fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	if *f.Version {
		_, _ = fmt.Printf("%s v%s\n", helpers.AppName, config.AppVersion)
		os.Exit(0)
	}
	return nil
}

// Post actions the single shot flags. It reports false when none was
// given and the caller should run the station instead.
func (f *Flags) Post(ctx context.Context, app *App, out io.Writer) (bool, error) {
	switch {
	case *f.Ports:
		return true, listPorts(ctx, app, out)
	case f.isFlagPassed("device-info"):
		if *f.DeviceInfo == "" {
			return true, fmt.Errorf("device-info: %w", ErrMissingValue)
		}
		info := app.Discoverer.DeviceInfo(ctx, *f.DeviceInfo)
		if info == "" {
			return true, fmt.Errorf("device info for %s: %w", *f.DeviceInfo, ErrNotFound)
		}
		_, _ = fmt.Fprintln(out, info)
		return true, nil
	case f.isFlagPassed("identify"):
		if *f.Identify == "" {
			return true, fmt.Errorf("identify: %w", ErrMissingValue)
		}
		return true, identify(ctx, app, *f.Identify, out)
	case f.isFlagPassed("flash"):
		if *f.Flash == "" {
			return true, fmt.Errorf("flash: %w", ErrMissingValue)
		}
		return true, flash(ctx, app, *f.Flash, out)
	case f.isFlagPassed("print"):
		if *f.Print == "" {
			return true, fmt.Errorf("print: %w", ErrMissingValue)
		}
		if err := app.Station.Print(ctx, *f.Print, *f.Copies); err != nil {
			return true, fmt.Errorf("print: %w", err)
		}
		_, _ = fmt.Fprintf(out, "Printed label for %s\n", *f.Print)
		return true, nil
	case *f.FindPrinter:
		b, err := app.Station.FindPrinter(ctx)
		if err != nil {
			return true, fmt.Errorf("find printer: %w", err)
		}
		_, _ = fmt.Fprintf(out, "Printer %s bound on channel %s\n", b.Address, b.Channel)
		return true, nil
	case f.isFlagPassed("ble-scan"):
		if *f.BLEScan == "" {
			return true, fmt.Errorf("ble-scan: %w", ErrMissingValue)
		}
		return true, bleScan(ctx, app, *f.BLEScan, out)
	case f.isFlagPassed("bind"):
		if !printer.ValidAddress(*f.Bind) {
			return true, fmt.Errorf("bind %q: %w", *f.Bind, printer.ErrInvalidAddress)
		}
		if !app.Binder.Bind(ctx, *f.Bind) {
			return true, fmt.Errorf("%w: %s", ErrBindFailed, *f.Bind)
		}
		_, _ = fmt.Fprintf(out, "Bound %s\n", *f.Bind)
		return true, nil
	case *f.Release:
		if !app.Binder.Release(ctx) {
			return true, fmt.Errorf("%w: release", ErrBindFailed)
		}
		_, _ = fmt.Fprintln(out, "Released")
		return true, nil
	case *f.Update:
		status, err := app.Station.Update(ctx)
		_, _ = fmt.Fprintf(out, "Update: %s\n", status)
		if err != nil {
			return true, fmt.Errorf("update: %w", err)
		}
		return true, nil
	case *f.FirmwareInfo:
		firmwareInfo(ctx, app, out)
		return true, nil
	}
	return false, nil
}

func listPorts(ctx context.Context, app *App, out io.Writer) error {
	res := app.Discoverer.Discover(ctx)
	if !res.Connected() {
		return fmt.Errorf("adapter: %w", ErrNotFound)
	}
	for _, a := range res.Adapters {
		port := a.PortName
		if port == "" {
			port = "-"
		}
		_, _ = fmt.Fprintf(out, "%s\t%s:%s\t%s\n", port, a.VendorID, a.ProductID, a.Descriptor)
	}
	for _, p := range res.Ports {
		if app.Discoverer.Verify(ctx, p) {
			_, _ = fmt.Fprintf(out, "port\t%s\n", p)
		}
	}
	return nil
}

func identify(ctx context.Context, app *App, port string, out io.Writer) error {
	rec := app.Station.Identify(ctx, port)
	if rec.Err != nil {
		return fmt.Errorf("identify %s: %w", port, rec.Err)
	}
	_, _ = fmt.Fprintf(out, "Address: %s\n", rec.Address)
	_, _ = fmt.Fprintf(out, "Firmware: %s\n", rec.FirmwareVersion)
	_, _ = fmt.Fprintf(out, "Elapsed: %s\n", rec.Elapsed)
	if !rec.Complete() {
		return fmt.Errorf("identify %s: incomplete identity: %w", port, ErrNotFound)
	}
	return nil
}

func flash(ctx context.Context, app *App, port string, out io.Writer) error {
	res := <-app.Station.Flash(ctx, port)
	_, _ = fmt.Fprintln(out, res.Message)
	if !res.Success {
		if res.Err != nil {
			return fmt.Errorf("%w: %w", ErrFlashFailed, res.Err)
		}
		return ErrFlashFailed
	}
	return nil
}

func bleScan(ctx context.Context, app *App, identity string, out io.Writer) error {
	res := app.BLE.ScanForServiceData(ctx, identity, app.Config.PrinterScanTimeout())
	if !res.Found {
		return fmt.Errorf("advertisement for %s: %w", identity, ErrNotFound)
	}
	_, _ = fmt.Fprintf(out, "Found %s (RSSI %d)\n", res.Address, res.RSSI)
	return nil
}

func firmwareInfo(ctx context.Context, app *App, out io.Writer) {
	info := app.Flasher.Info(app.FirmwareDir)
	marker := app.Checker.CurrentMarker(app.FirmwareDir)
	tool := app.Config.Flasher().Tool
	if !app.Flasher.Available(ctx) {
		tool += " (not found)"
	}
	_, _ = fmt.Fprintf(out, "Directory: %s\n", info.Dir)
	_, _ = fmt.Fprintf(out, "Release: %s\n", marker.Version)
	_, _ = fmt.Fprintf(out, "Tool: %s\n", tool)
	for _, fi := range info.Files {
		state := "missing"
		if fi.Exists {
			state = fmt.Sprintf("%d bytes", fi.Size)
		}
		_, _ = fmt.Fprintf(out, "  0x%06x  %s  %s\n", fi.Offset, fi.Name, state)
	}
	if info.Ready() {
		_, _ = fmt.Fprintln(out, "Ready to flash")
	}
}

// Setup creates the state directories, starts logging and loads the user
// config. Telemetry failures are logged, not returned.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	paths helpers.Paths,
	defaults config.Values,
	debug bool,
	writers []io.Writer,
) (*config.Instance, error) {
	for _, dir := range []string{paths.ConfigDir, paths.LogDir, paths.FirmwareDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := helpers.InitLogging(paths.LogDir, debug, writers); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfg, err := config.NewConfig(paths.ConfigDir, defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if debug || cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	stationID, err := os.Hostname()
	if err != nil {
		stationID = helpers.AppName
	}
	if err := telemetry.Init(cfg.Telemetry(), stationID, config.AppVersion); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}
