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

package printer

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultScanTimeout = 5 * time.Second
	DefaultBurst       = 500 * time.Millisecond
)

var ErrNotSupported = errors.New("classic bluetooth discovery not supported on this platform")

// Device is a radio seen during a discovery burst.
type Device struct {
	Name    string
	Address string
}

// Discoverer runs one discovery burst of roughly the given length and
// returns every device the OS knows about afterwards.
type Discoverer interface {
	Discover(ctx context.Context, burst time.Duration) ([]Device, error)
}

// ClassicScanner looks for a printer by its advertised name.
type ClassicScanner struct {
	disc  Discoverer
	clock clockwork.Clock
	burst time.Duration
}

func NewClassicScanner(disc Discoverer, clock clockwork.Clock) *ClassicScanner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClassicScanner{disc: disc, clock: clock, burst: DefaultBurst}
}

// ScanForNamedDevice repeats short bursts until a device named exactly
// name shows up or timeout has passed.
func (s *ClassicScanner) ScanForNamedDevice(
	ctx context.Context,
	name string,
	timeout time.Duration,
) (found bool, address string) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	start := s.clock.Now()
	logger := log.With().Str("name", name).Logger()
	logger.Info().Dur("timeout", timeout).Msg("scanning for printer")

	for s.clock.Since(start) < timeout {
		if ctx.Err() != nil {
			return false, ""
		}

		devices, err := s.disc.Discover(ctx, s.burst)
		if errors.Is(err, ErrNotSupported) {
			logger.Warn().Err(err).Msg("printer scan unavailable")
			return false, ""
		}
		if err != nil {
			logger.Debug().Err(err).Msg("discovery burst failed")
			// Back off for one burst so a failing adapter is not hammered.
			select {
			case <-ctx.Done():
				return false, ""
			case <-s.clock.After(s.burst):
			}
			continue
		}

		for _, d := range devices {
			if d.Name == name {
				logger.Info().Str("address", d.Address).Msg("printer found")
				return true, d.Address
			}
		}
	}

	logger.Info().Msg("printer not found within timeout")
	return false, ""
}
