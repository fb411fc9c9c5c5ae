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

// Package printer finds the label printer over Bluetooth, keeps the rfcomm
// channel bound to it, and prints identity labels.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultName         = "Printer001"
	DefaultDevice       = "/dev/rfcomm0"
	DefaultWriteTimeout = 5 * time.Second
)

var (
	ErrPrinterNotFound     = errors.New("printer not found")
	ErrBindFailed          = errors.New("failed to bind printer channel")
	ErrPrinterDisconnected = errors.New("printer disconnected")
	ErrEmptyIdentity       = errors.New("identity is empty")
)

// Opener opens the bound channel device for writing.
type Opener func(path string) (io.WriteCloser, error)

func openDevice(path string) (io.WriteCloser, error) {
	//nolint:gosec // device path comes from config
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open printer device: %w", err)
	}
	return f, nil
}

type Options struct {
	Name         string
	Device       string
	Label        Label
	ScanTimeout  time.Duration
	WriteTimeout time.Duration
}

// Printer prints identity labels. It does not serialise concurrent Print
// calls; callers must keep at most one in flight.
type Printer struct {
	clock   clockwork.Clock
	scanner *ClassicScanner
	binder  *Binder
	open    Opener
	opts    Options
	mu      sync.Mutex // protects stale
	stale   bool
}

func New(scanner *ClassicScanner, binder *Binder, clock clockwork.Clock, opts Options) *Printer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Device == "" {
		opts.Device = DefaultDevice
	}
	if opts.Label == (Label{}) {
		opts.Label = DefaultLabel()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Printer{
		clock:   clock,
		scanner: scanner,
		binder:  binder,
		open:    openDevice,
		opts:    opts,
	}
}

// Stale reports whether the last write failed, forcing rediscovery.
func (p *Printer) Stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stale
}

func (p *Printer) setStale(stale bool) {
	p.mu.Lock()
	p.stale = stale
	p.mu.Unlock()
}

// Connect discovers the printer by name and binds the channel to it.
func (p *Printer) Connect(ctx context.Context) (Binding, error) {
	found, address := p.scanner.ScanForNamedDevice(ctx, p.opts.Name, p.opts.ScanTimeout)
	if !found {
		return Binding{}, fmt.Errorf("%w: %s", ErrPrinterNotFound, p.opts.Name)
	}
	if !p.binder.Bind(ctx, address) {
		return Binding{}, fmt.Errorf("%w: %s", ErrBindFailed, address)
	}
	p.setStale(false)
	return Binding{Address: strings.ToUpper(address), Channel: p.binder.channel, Bound: true}, nil
}

func (p *Printer) ensureBound(ctx context.Context) error {
	if !p.Stale() {
		current, err := p.binder.Current(ctx)
		if err == nil && current.Bound {
			return nil
		}
	}
	_, err := p.Connect(ctx)
	return err
}

// Print writes copies labels for identity, connecting first if needed.
// A write that does not finish within the write timeout marks the
// connection stale and returns ErrPrinterDisconnected.
func (p *Printer) Print(ctx context.Context, identity string, copies int) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrEmptyIdentity
	}
	if copies < 1 {
		copies = 1
	}

	if err := p.ensureBound(ctx); err != nil {
		return err
	}

	data := p.opts.Label.TSPL(identity)
	for i := range copies {
		if err := p.write(ctx, data); err != nil {
			log.Warn().Err(err).Int("copy", i+1).Msg("label print failed")
			return err
		}
	}
	log.Info().Str("identity", identity).Int("copies", copies).Msg("labels printed")
	return nil
}

// handle lets the watchdog close a device the writer goroutine opened.
type handle struct {
	wc     io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func (h *handle) set(wc io.WriteCloser) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wc = wc
	return true
}

func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.wc == nil {
		return nil
	}
	return h.wc.Close()
}

// write opens the device, writes data and closes it on a separate
// goroutine. Opening an rfcomm node connects the radio link, so both the
// open and the write can block on a dead printer.
func (p *Printer) write(ctx context.Context, data []byte) error {
	h := &handle{}
	done := make(chan error, 1)

	go func() {
		wc, err := p.open(p.opts.Device)
		if err != nil {
			done <- err
			return
		}
		if !h.set(wc) {
			_ = wc.Close()
			done <- ErrPrinterDisconnected
			return
		}
		_, err = wc.Write(data)
		if cerr := h.close(); err == nil {
			err = cerr
		}
		done <- err
	}()

	timer := p.clock.NewTimer(p.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			p.setStale(true)
			return fmt.Errorf("%w: %w", ErrPrinterDisconnected, err)
		}
		return nil
	case <-timer.Chan():
		_ = h.close()
		p.setStale(true)
		return fmt.Errorf("%w: write timed out after %s", ErrPrinterDisconnected, p.opts.WriteTimeout)
	case <-ctx.Done():
		_ = h.close()
		p.setStale(true)
		return fmt.Errorf("print canceled: %w", ctx.Err())
	}
}
