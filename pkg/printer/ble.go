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
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultServiceDataUUID keys the identity a CC2 board advertises.
const DefaultServiceDataUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"

const (
	// stopGrace is how long a stopped scan may take to return before
	// it is logged as stuck.
	stopGrace = 2 * time.Second
	stopRetry = 50 * time.Millisecond
)

type ServiceData struct {
	UUID string
	Data []byte
}

type Advertisement struct {
	Address     string
	LocalName   string
	ServiceData []ServiceData
	RSSI        int16
}

// Radio is a BLE adapter. Scan blocks, calling onAdvert for every
// advertisement, until StopScan is called.
type Radio interface {
	Enable() error
	Scan(onAdvert func(Advertisement)) error
	StopScan() error
}

// ScanResult is the outcome of one service-data scan.
type ScanResult struct {
	Address string
	RSSI    int
	Found   bool
}

type scanState int32

const (
	stateScanning scanState = iota
	stateMatched
	stateTimedOut
)

// BLEScanner looks for a board advertising a given identity.
type BLEScanner struct {
	radio       Radio
	clock       clockwork.Clock
	serviceUUID string
	// one scan at a time: the radio has a single scan slot
	mu sync.Mutex
}

func NewBLEScanner(radio Radio, serviceUUID string, clock clockwork.Clock) *BLEScanner {
	if serviceUUID == "" {
		serviceUUID = DefaultServiceDataUUID
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BLEScanner{radio: radio, serviceUUID: serviceUUID, clock: clock}
}

// Normalize strips colon separators and upper-cases an identity so
// "AA:BB:CC" and "aabbcc" compare equal.
func Normalize(identity string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(identity), ":", ""))
}

// DecodePayload reads service data as text, or as hex when it is not
// valid UTF-8.
func DecodePayload(data []byte) string {
	if utf8.Valid(data) {
		return strings.TrimRight(string(data), "\x00")
	}
	return hex.EncodeToString(data)
}

// ScanForServiceData scans until an advertisement carries identity under
// the service-data UUID, or timeout passes. On every path the radio scan
// has returned before this does.
func (s *BLEScanner) ScanForServiceData(ctx context.Context, identity string, timeout time.Duration) ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	target := Normalize(identity)
	logger := log.With().Str("identity", target).Logger()

	if target == "" {
		return ScanResult{}
	}
	if err := s.radio.Enable(); err != nil {
		logger.Warn().Err(err).Msg("failed to enable bluetooth radio")
		return ScanResult{}
	}

	var state atomic.Int32
	matched := make(chan ScanResult, 1)
	scanDone := make(chan error, 1)

	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()

	go func() {
		scanDone <- s.radio.Scan(func(adv Advertisement) {
			if scanState(state.Load()) != stateScanning || !s.carries(adv, target) {
				return
			}
			if state.CompareAndSwap(int32(stateScanning), int32(stateMatched)) {
				matched <- ScanResult{Found: true, RSSI: int(adv.RSSI), Address: adv.Address}
				s.stopScan(logger)
			}
		})
	}()

	var res ScanResult
	select {
	case res = <-matched:
	case err := <-scanDone:
		select {
		case res = <-matched:
		default:
			// Scan returned on its own: it failed to start or the radio went away.
			logger.Warn().Err(err).Msg("bluetooth scan ended early")
			return res
		}
		logger.Info().Int("rssi", res.RSSI).Str("address", res.Address).Msg("identity advertisement found")
		return res
	case <-timer.Chan():
		res = s.expire(&state, matched)
	case <-ctx.Done():
		res = s.expire(&state, matched)
	}

	// A match has already asked the radio to stop from inside the scan.
	s.halt(scanDone, res.Found, logger)

	if res.Found {
		logger.Info().Int("rssi", res.RSSI).Str("address", res.Address).Msg("identity advertisement found")
	} else {
		logger.Info().Msg("identity advertisement not found")
	}
	return res
}

// expire moves the scan to TIMED_OUT unless a match won the race.
func (*BLEScanner) expire(state *atomic.Int32, matched <-chan ScanResult) ScanResult {
	if state.CompareAndSwap(int32(stateScanning), int32(stateTimedOut)) {
		return ScanResult{}
	}
	return <-matched
}

func (s *BLEScanner) stopScan(logger zerolog.Logger) bool {
	if err := s.radio.StopScan(); err != nil {
		// Usually means the scan goroutine has not registered yet.
		logger.Debug().Err(err).Msg("StopScan")
		return false
	}
	return true
}

// halt blocks until Scan has returned. A StopScan that lands before the
// radio is scanning is a no-op, so it is repeated until one sticks.
func (s *BLEScanner) halt(scanDone <-chan error, stopped bool, logger zerolog.Logger) {
	if !stopped {
		stopped = s.stopScan(logger)
	}
	grace := s.clock.After(stopGrace)
	for {
		retry := s.clock.After(stopRetry)
		select {
		case err := <-scanDone:
			if err != nil {
				logger.Debug().Err(err).Msg("bluetooth scan returned error")
			}
			return
		case <-retry:
			if !stopped {
				stopped = s.stopScan(logger)
			}
		case <-grace:
			logger.Warn().Msg("bluetooth radio has not acknowledged StopScan, still waiting")
			grace = nil
			// ask again in case the radio dropped the first request
			stopped = false
		}
	}
}

func (s *BLEScanner) carries(adv Advertisement, target string) bool {
	for _, sd := range adv.ServiceData {
		if !strings.EqualFold(sd.UUID, s.serviceUUID) {
			continue
		}
		if Normalize(DecodePayload(sd.Data)) == target {
			return true
		}
	}
	return false
}
