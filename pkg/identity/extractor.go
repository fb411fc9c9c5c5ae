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

// Package identity reads the address and firmware version a CC2 controller
// prints on its serial console.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 921600
	DefaultBudget   = 5 * time.Second

	readTimeout = 100 * time.Millisecond
	queryDelay  = time.Second
	readBufSize = 1024
)

// Query is written once after the warm-up delay to make the firmware
// repeat its identity banner.
var Query = []byte("?\n")

var ErrPortOpen = errors.New("serial port unavailable")

type Field string

const (
	FieldAddress Field = "address"
	FieldVersion Field = "version"
)

// Observer is told about every capture as it happens, from the session's
// goroutine.
type Observer func(field Field, value string)

// Record is the frozen result of one serial session.
type Record struct {
	Err             error
	Address         string
	FirmwareVersion string
	Elapsed         time.Duration
	TranscriptBytes int
	AddressCaptured bool
	VersionCaptured bool
}

// Complete reports whether both fields were captured.
func (r Record) Complete() bool {
	return r.AddressCaptured && r.VersionCaptured
}

// Error returns the failure reason, or "" for a clean session.
func (r Record) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type Extractor struct {
	clock    clockwork.Clock
	openPort PortFactory
	observer Observer
	patterns Patterns
}

type Option func(*Extractor)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Extractor) { e.clock = clock }
}

func WithPortFactory(factory PortFactory) Option {
	return func(e *Extractor) { e.openPort = factory }
}

func WithObserver(observer Observer) Option {
	return func(e *Extractor) { e.observer = observer }
}

func WithPatterns(patterns Patterns) Option {
	return func(e *Extractor) { e.patterns = patterns }
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		clock:    clockwork.NewRealClock(),
		openPort: DefaultPortFactory,
		patterns: DefaultPatterns(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record opens port and listens for up to budget. It returns as soon as
// both the address and the version have been seen. Failures are reported
// in Record.Err, never as a panic, and the port is always closed.
func (e *Extractor) Record(ctx context.Context, port string, budget time.Duration, baud int) Record {
	return e.RecordObserved(ctx, port, budget, baud, nil)
}

// RecordObserved is Record with an extra observer for this session only.
// It runs after the extractor-wide observer.
func (e *Extractor) RecordObserved(
	ctx context.Context,
	port string,
	budget time.Duration,
	baud int,
	observer Observer,
) Record {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	s := &session{
		id:       uuid.New(),
		patterns: e.patterns,
		observer: chainObservers(e.observer, observer),
		lines:    newLineAssembler(),
	}
	start := e.clock.Now()
	logger := log.With().Str("session", s.id.String()).Str("port", port).Logger()

	p, err := e.openPort(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		logger.Warn().Err(err).Msg("identity session could not open port")
		s.rec.Err = fmt.Errorf("%w: %w", ErrPortOpen, err)
		return s.finish(e.clock.Since(start))
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close serial port")
		}
	}()

	if err := p.SetReadTimeout(readTimeout); err != nil {
		s.rec.Err = fmt.Errorf("failed to set read timeout: %w", err)
		return s.finish(e.clock.Since(start))
	}

	logger.Info().Dur("budget", budget).Int("baud", baud).Msg("identity session started")

	buf := make([]byte, readBufSize)
	queried := false
	for {
		if err := ctx.Err(); err != nil {
			s.rec.Err = err
			break
		}

		elapsed := e.clock.Since(start)
		if elapsed >= budget {
			logger.Debug().Msg("identity session budget elapsed")
			break
		}

		if !queried && elapsed >= queryDelay {
			queried = true
			if _, err := p.Write(Query); err != nil {
				logger.Warn().Err(err).Msg("failed to write identity query")
			}
		}

		n, err := p.Read(buf)
		if err != nil {
			s.rec.Err = fmt.Errorf("serial read failed: %w", err)
			break
		}
		s.feed(buf[:n])

		if s.rec.Complete() {
			logger.Debug().Msg("address and version captured, ending early")
			break
		}
	}

	rec := s.finish(e.clock.Since(start))
	logger.Info().
		Str("address", rec.Address).
		Str("version", rec.FirmwareVersion).
		Dur("elapsed", rec.Elapsed).
		Int("bytes", rec.TranscriptBytes).
		Msg("identity session finished")
	return rec
}

func chainObservers(first, second Observer) Observer {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}
	return func(field Field, value string) {
		first(field, value)
		second(field, value)
	}
}

type session struct {
	observer Observer
	lines    *lineAssembler
	patterns Patterns
	rec      Record
	id       uuid.UUID
}

func (s *session) feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.rec.TranscriptBytes += len(chunk)
	for _, line := range s.lines.feed(chunk) {
		log.Trace().Str("line", line).Msg("serial")
		s.handle(line)
	}
}

func (s *session) handle(line string) {
	field, value := s.patterns.classify(line)
	if value == "" {
		return
	}

	switch field {
	case FieldAddress:
		if s.rec.AddressCaptured {
			return
		}
		s.rec.Address = value
		s.rec.AddressCaptured = true
	case FieldVersion:
		if s.rec.VersionCaptured {
			return
		}
		s.rec.FirmwareVersion = value
		s.rec.VersionCaptured = true
	default:
		return
	}

	if s.observer != nil {
		s.observer(field, value)
	}
}

func (s *session) finish(elapsed time.Duration) Record {
	s.rec.Elapsed = elapsed
	return s.rec
}
