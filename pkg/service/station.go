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

// Package service runs the provisioning station: it watches for adapters
// on a fixed cadence and coordinates identify, flash, print and update
// work so that no two jobs fight over the same resource.
package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/adapters"
	"github.com/cannatrols/cc2-provisioner/pkg/config"
	"github.com/cannatrols/cc2-provisioner/pkg/flasher"
	"github.com/cannatrols/cc2-provisioner/pkg/helpers/syncutil"
	"github.com/cannatrols/cc2-provisioner/pkg/identity"
	"github.com/cannatrols/cc2-provisioner/pkg/models"
	"github.com/cannatrols/cc2-provisioner/pkg/notifications"
	"github.com/cannatrols/cc2-provisioner/pkg/printer"
	"github.com/cannatrols/cc2-provisioner/pkg/updater"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrPrintInProgress = errors.New("a print job is already in progress")
	ErrPortBusy        = errors.New("port is busy")
)

type AdapterSource interface {
	Discover(ctx context.Context) adapters.Result
}

type IdentityReader interface {
	RecordObserved(
		ctx context.Context,
		port string,
		budget time.Duration,
		baud int,
		observer identity.Observer,
	) identity.Record
}

type FirmwareFlasher interface {
	Flash(ctx context.Context, port, dir string) flasher.Result
}

type LabelPrinter interface {
	Connect(ctx context.Context) (printer.Binding, error)
	Print(ctx context.Context, identity string, copies int) error
}

type FirmwareUpdater interface {
	CheckAndUpdate(ctx context.Context, dir string) (updater.Status, error)
}

// Snapshot is an immutable view of the station after one poll. It is the
// only state a display layer needs.
type Snapshot struct {
	At         time.Time
	Identities map[string]identity.Record
	Adapters   adapters.Result
}

type Deps struct {
	Config      *config.Instance
	Clock       clockwork.Clock
	Adapters    AdapterSource
	Reader      IdentityReader
	Flasher     FirmwareFlasher
	Printer     LabelPrinter
	Updater     FirmwareUpdater
	Notify      notifications.Sink
	FirmwareDir string
}

type jobKind string

const (
	jobIdentify jobKind = "identify"
	jobFlash    jobKind = "flash"
)

type Station struct {
	deps      Deps
	snapshots chan Snapshot
	calls     singleflight.Group
	wg        sync.WaitGroup
	printing  atomic.Bool
	mu        syncutil.Mutex
	last      adapters.Result
	records   map[string]identity.Record
	busy      map[string]jobKind
}

func NewStation(deps Deps) *Station {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Station{
		deps:      deps,
		snapshots: make(chan Snapshot, 1),
		records:   make(map[string]identity.Record),
		busy:      make(map[string]jobKind),
	}
}

// Snapshots delivers the latest poll result. An unread snapshot is
// replaced by a newer one rather than queued.
func (s *Station) Snapshots() <-chan Snapshot {
	return s.snapshots
}

// Run polls for adapters every poll interval until ctx is done, then waits
// for background jobs it started to finish.
func (s *Station) Run(ctx context.Context) error {
	interval := s.deps.Config.PollInterval()
	log.Info().Dur("interval", interval).Msg("station started")

	ticker := s.deps.Clock.NewTicker(interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("station shutting down")
			return nil
		case <-ticker.Chan():
			s.Poll(ctx)
		}
	}
}

// Poll runs one discovery pass, announces attach and detach transitions
// and posts the resulting snapshot.
func (s *Station) Poll(ctx context.Context) Snapshot {
	res := s.deps.Adapters.Discover(ctx)

	s.mu.Lock()
	prev := s.last
	s.last = res
	attached, detached := diffPorts(targetPorts(prev), targetPorts(res))
	for _, port := range detached {
		delete(s.records, port)
	}
	s.mu.Unlock()

	for _, port := range detached {
		log.Info().Str("port", port).Msg("adapter detached")
		notifications.AdapterDetached(s.deps.Notify, port)
	}
	auto := s.deps.Config.Station().AutoIdentify
	for _, port := range attached {
		log.Info().Str("port", port).Msg("adapter attached")
		notifications.AdapterAttached(s.deps.Notify, adapterParams(res, port))
		if auto {
			s.autoIdentify(ctx, port)
		}
	}

	snap := s.snapshot(res)
	s.post(snap)
	return snap
}

func (s *Station) snapshot(res adapters.Result) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		At:         s.deps.Clock.Now(),
		Adapters:   res,
		Identities: maps.Clone(s.records),
	}
}

func (s *Station) post(snap Snapshot) {
	select {
	case <-s.snapshots:
	default:
	}
	select {
	case s.snapshots <- snap:
	default:
	}
}

// targetPorts lists the ports a board can be reached on: the nodes owned
// by matched adapters, or every candidate when ownership is unknown.
func targetPorts(res adapters.Result) []string {
	var ports []string
	for _, a := range res.Adapters {
		if a.PortName != "" && !slices.Contains(ports, a.PortName) {
			ports = append(ports, a.PortName)
		}
	}
	if len(ports) == 0 && res.Connected() {
		ports = slices.Clone(res.Ports)
	}
	return ports
}

func diffPorts(prev, cur []string) (attached, detached []string) {
	for _, p := range cur {
		if !slices.Contains(prev, p) {
			attached = append(attached, p)
		}
	}
	for _, p := range prev {
		if !slices.Contains(cur, p) {
			detached = append(detached, p)
		}
	}
	return attached, detached
}

func adapterParams(res adapters.Result, port string) models.AdapterParams {
	params := models.AdapterParams{Port: port}
	for _, a := range res.Adapters {
		if a.PortName == port || a.PortName == "" {
			params.VendorID = a.VendorID
			params.ProductID = a.ProductID
			params.Descriptor = a.Descriptor
			break
		}
	}
	return params
}

func (s *Station) claim(port string, kind jobKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.busy[port]; ok {
		return fmt.Errorf("%w: %s running on %s", ErrPortBusy, current, port)
	}
	s.busy[port] = kind
	return nil
}

func (s *Station) release(port string) {
	s.mu.Lock()
	delete(s.busy, port)
	s.mu.Unlock()
}

// Identify reads the board's identity from port. Concurrent calls for the
// same port share one serial session.
func (s *Station) Identify(ctx context.Context, port string) identity.Record {
	v, _, _ := s.calls.Do(string(jobIdentify)+":"+port, func() (any, error) {
		if err := s.claim(port, jobIdentify); err != nil {
			return identity.Record{Err: err}, nil
		}
		defer s.release(port)

		serialCfg := s.deps.Config.Serial()
		rec := s.deps.Reader.RecordObserved(
			ctx,
			port,
			s.deps.Config.SerialDuration(),
			serialCfg.BaudRate,
			func(field identity.Field, value string) {
				notifications.IdentityField(s.deps.Notify, models.IdentityFieldParams{
					Port:  port,
					Field: string(field),
					Value: value,
				})
			},
		)

		s.mu.Lock()
		// a port detached mid-session must not reappear in snapshots
		if slices.Contains(targetPorts(s.last), port) {
			s.records[port] = rec
		}
		s.mu.Unlock()

		notifications.IdentityRecorded(s.deps.Notify, models.IdentityParams{
			Port:            port,
			Address:         rec.Address,
			FirmwareVersion: rec.FirmwareVersion,
			Complete:        rec.Complete(),
			Error:           rec.Error(),
			ElapsedMs:       rec.Elapsed.Milliseconds(),
		})
		return rec, nil
	})
	rec, _ := v.(identity.Record)
	return rec
}

// Flash writes the firmware in the configured directory to port without
// blocking the caller. Concurrent requests for one port share a single
// flash and all receive its result.
func (s *Station) Flash(ctx context.Context, port string) <-chan flasher.Result {
	out := make(chan flasher.Result, 1)
	ch := s.calls.DoChan(string(jobFlash)+":"+port, func() (any, error) {
		if err := s.claim(port, jobFlash); err != nil {
			return flasher.Result{Err: err, Message: err.Error()}, nil
		}
		defer s.release(port)

		notifications.FlashStarted(s.deps.Notify, port)
		res := s.deps.Flasher.Flash(ctx, port, s.deps.FirmwareDir)
		notifications.FlashFinished(s.deps.Notify, models.FlashParams{
			Port:       port,
			Success:    res.Success,
			Message:    res.Message,
			DurationMs: res.Duration.Milliseconds(),
		})
		return res, nil
	})

	go func() {
		r := <-ch
		res, _ := r.Val.(flasher.Result)
		out <- res
	}()
	return out
}

// Print prints copies labels for identity. Only one print or printer
// search runs at a time; a second caller gets ErrPrintInProgress. copies
// below one falls back to the configured count.
func (s *Station) Print(ctx context.Context, identity string, copies int) error {
	if !s.printing.CompareAndSwap(false, true) {
		return ErrPrintInProgress
	}
	defer s.printing.Store(false)

	if copies < 1 {
		copies = s.deps.Config.Station().PrintCopies
	}
	err := s.deps.Printer.Print(ctx, identity, copies)

	params := models.PrintParams{Identity: identity, Copies: copies, Success: err == nil}
	if err != nil {
		params.Error = err.Error()
		log.Warn().Err(err).Str("identity", identity).Msg("print failed")
	}
	notifications.PrintFinished(s.deps.Notify, params)
	return err
}

// FindPrinter discovers the printer and binds the channel to it.
func (s *Station) FindPrinter(ctx context.Context) (printer.Binding, error) {
	if !s.printing.CompareAndSwap(false, true) {
		return printer.Binding{}, ErrPrintInProgress
	}
	defer s.printing.Store(false)

	b, err := s.deps.Printer.Connect(ctx)
	params := models.PrinterParams{Address: b.Address, Channel: b.Channel, Found: err == nil}
	if err != nil {
		params.Error = err.Error()
	}
	notifications.PrinterFound(s.deps.Notify, params)
	return b, err
}

// Update checks for and installs new firmware. Overlapping calls share one
// check.
func (s *Station) Update(ctx context.Context) (updater.Status, error) {
	type outcome struct {
		err    error
		status updater.Status
	}
	v, _, _ := s.calls.Do("update", func() (any, error) {
		status, err := s.deps.Updater.CheckAndUpdate(ctx, s.deps.FirmwareDir)
		params := models.UpdateParams{Status: string(status)}
		if err != nil {
			params.Error = err.Error()
			log.Warn().Err(err).Msg("firmware update failed")
		}
		notifications.UpdateFinished(s.deps.Notify, params)
		return outcome{status: status, err: err}, nil
	})
	o, _ := v.(outcome)
	return o.status, o.err
}

func (s *Station) autoIdentify(ctx context.Context, port string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		rec := s.Identify(ctx, port)
		if !rec.Complete() || !s.deps.Config.Station().AutoPrint {
			return
		}
		if err := s.Print(ctx, rec.Address, 0); err != nil {
			log.Warn().Err(err).Str("port", port).Msg("automatic label print skipped")
		}
	}()
}
