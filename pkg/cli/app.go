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
	"github.com/cannatrols/cc2-provisioner/pkg/adapters"
	"github.com/cannatrols/cc2-provisioner/pkg/config"
	"github.com/cannatrols/cc2-provisioner/pkg/flasher"
	"github.com/cannatrols/cc2-provisioner/pkg/helpers/command"
	"github.com/cannatrols/cc2-provisioner/pkg/identity"
	"github.com/cannatrols/cc2-provisioner/pkg/printer"
	"github.com/cannatrols/cc2-provisioner/pkg/service"
	"github.com/cannatrols/cc2-provisioner/pkg/service/broker"
	"github.com/cannatrols/cc2-provisioner/pkg/shared/httpclient"
	"github.com/cannatrols/cc2-provisioner/pkg/updater"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Env holds the platform facing pieces an App is built on. Tests swap
// them for fakes.
type Env struct {
	Exec        command.Executor
	Fs          afero.Fs
	Radio       printer.Radio
	Classic     printer.Discoverer
	PortFactory identity.PortFactory
	Clock       clockwork.Clock
	HTTP        *httpclient.Client
}

func DefaultEnv() Env {
	return Env{
		Exec:        &command.RealExecutor{},
		Fs:          afero.NewOsFs(),
		Radio:       printer.NewRadio(),
		Classic:     printer.NewDiscoverer(),
		PortFactory: identity.DefaultPortFactory,
		Clock:       clockwork.NewRealClock(),
		HTTP:        httpclient.NewClient(),
	}
}

// App is the fully wired provisioner.
type App struct {
	Config      *config.Instance
	Discoverer  *adapters.Discoverer
	Extractor   *identity.Extractor
	Flasher     *flasher.Flasher
	Binder      *printer.Binder
	BLE         *printer.BLEScanner
	Printer     *printer.Printer
	Checker     *updater.Checker
	Broker      *broker.Broker
	Station     *service.Station
	FirmwareDir string
}

func NewApp(cfg *config.Instance, firmwareDir string, env Env) *App {
	adapterCfg := cfg.Adapter()
	serialCfg := cfg.Serial()
	flasherCfg := cfg.Flasher()
	printerCfg := cfg.Printer()
	updateCfg := cfg.Update()
	dir := cfg.FirmwareDir(firmwareDir)

	discoverer := adapters.NewDiscoverer(env.Exec, adapters.Options{
		VendorID:       adapterCfg.VendorID,
		ProductID:      adapterCfg.ProductID,
		ProductHint:    adapterCfg.ProductHint,
		PortGlob:       adapterCfg.PortGlob,
		CommandTimeout: cfg.CommandTimeout(),
	})

	extractorOpts := []identity.Option{
		identity.WithClock(env.Clock),
		identity.WithPatterns(identity.Patterns{
			IdentityPrefix: serialCfg.IdentityPrefix,
			IdentityMarker: serialCfg.IdentityMarker,
			SplitMarker:    serialCfg.SplitMarker,
			VersionPrefix:  serialCfg.VersionPrefix,
			VersionMarker:  serialCfg.VersionMarker,
		}),
	}
	if env.PortFactory != nil {
		extractorOpts = append(extractorOpts, identity.WithPortFactory(env.PortFactory))
	}
	extractor := identity.NewExtractor(extractorOpts...)

	files := flasher.DefaultFileSet()
	files.Bootloader.Name = flasherCfg.Bootloader
	files.Partitions.Name = flasherCfg.Partitions
	files.Application.Name = flasherCfg.Application
	files.Filesystem.Name = flasherCfg.Filesystem
	fl := flasher.New(env.Exec, env.Fs, flasher.Options{
		Tool:     flasherCfg.Tool,
		Chip:     flasherCfg.Chip,
		Files:    files,
		BaudRate: flasherCfg.BaudRate,
	})

	binder := printer.NewBinder(env.Exec, printerCfg.Channel, printerCfg.UseSudo)
	prn := printer.New(
		printer.NewClassicScanner(env.Classic, env.Clock),
		binder,
		env.Clock,
		printer.Options{
			Name:   printerCfg.Name,
			Device: printerCfg.Device,
			Label: printer.Label{
				Title:    printerCfg.Label.Title,
				WidthMM:  printerCfg.Label.WidthMM,
				HeightMM: printerCfg.Label.HeightMM,
				GapMM:    printerCfg.Label.GapMM,
			},
			ScanTimeout:  cfg.PrinterScanTimeout(),
			WriteTimeout: cfg.PrinterWriteTimeout(),
		},
	)

	checker := updater.NewChecker(env.HTTP, env.Fs, updater.Options{
		Endpoint:     updateCfg.Endpoint,
		ProbeURL:     updateCfg.ProbeURL,
		ProbeTimeout: cfg.ProbeTimeout(),
	})

	b := broker.NewBroker()
	station := service.NewStation(service.Deps{
		Config:      cfg,
		Clock:       env.Clock,
		Adapters:    discoverer,
		Reader:      extractor,
		Flasher:     fl,
		Printer:     prn,
		Updater:     checker,
		Notify:      b,
		FirmwareDir: dir,
	})

	return &App{
		Config:      cfg,
		Discoverer:  discoverer,
		Extractor:   extractor,
		Flasher:     fl,
		Binder:      binder,
		BLE:         printer.NewBLEScanner(env.Radio, printerCfg.ServiceDataUUID, env.Clock),
		Printer:     prn,
		Checker:     checker,
		Broker:      b,
		Station:     station,
		FirmwareDir: dir,
	}
}

// Close releases the broker. Subscribers see their channels closed.
func (a *App) Close() {
	a.Broker.Close()
}
