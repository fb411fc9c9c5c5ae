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
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeRadio replays adverts and then blocks like a real scan until
// StopScan is called.
type fakeRadio struct {
	enableErr error
	scanErr   error
	stopCh    chan struct{}
	started   chan struct{}
	adverts   []Advertisement
	seen      atomic.Int32
	stopCalls atomic.Int32
	stopOnce  sync.Once
}

func newFakeRadio(adverts ...Advertisement) *fakeRadio {
	return &fakeRadio{
		adverts: adverts,
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

func (r *fakeRadio) Enable() error {
	return r.enableErr
}

func (r *fakeRadio) Scan(onAdvert func(Advertisement)) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	close(r.started)
	for _, adv := range r.adverts {
		select {
		case <-r.stopCh:
			return nil
		default:
		}
		r.seen.Add(1)
		onAdvert(adv)
	}
	<-r.stopCh
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.stopCalls.Add(1)
	r.stopOnce.Do(func() { close(r.stopCh) })
	return nil
}

func identityAdvert(payload []byte, rssi int16) Advertisement {
	return Advertisement{
		Address:     "E4:B1:37:97:BA:CE",
		RSSI:        rssi,
		ServiceData: []ServiceData{{UUID: DefaultServiceDataUUID, Data: payload}},
	}
}

func TestScanForServiceData_Match(t *testing.T) {
	t.Parallel()

	radio := newFakeRadio(
		Advertisement{Address: "11:22:33:44:55:66", RSSI: -80},
		Advertisement{
			Address:     "22:33:44:55:66:77",
			ServiceData: []ServiceData{{UUID: "0000feaa-0000-1000-8000-00805f9b34fb", Data: []byte("E4B13797BACC")}},
		},
		identityAdvert([]byte("e4:b1:37:97:ba:cc"), -61),
		identityAdvert([]byte("E4B13797BACC"), -40),
	)
	s := NewBLEScanner(radio, "", clockwork.NewFakeClock())

	res := s.ScanForServiceData(context.Background(), "E4B13797BACC", 5*time.Second)

	assert.True(t, res.Found)
	assert.Equal(t, -61, res.RSSI)
	assert.Equal(t, int32(1), radio.stopCalls.Load())
	assert.Equal(t, int32(3), radio.seen.Load(), "adverts after the match are not observed")
}

func TestScanForServiceData_UUIDCaseInsensitive(t *testing.T) {
	t.Parallel()

	radio := newFakeRadio(Advertisement{
		RSSI:        -50,
		ServiceData: []ServiceData{{UUID: "4FAFC201-1FB5-459E-8FCC-C5C9C331914B", Data: []byte("AABBCC")}},
	})
	s := NewBLEScanner(radio, DefaultServiceDataUUID, clockwork.NewFakeClock())

	res := s.ScanForServiceData(context.Background(), "aa:bb:cc", time.Second)
	assert.True(t, res.Found)
}

func TestScanForServiceData_HexPayload(t *testing.T) {
	t.Parallel()

	radio := newFakeRadio(identityAdvert([]byte{0xE4, 0xB1, 0x37, 0x97, 0xBA, 0xCC}, -70))
	s := NewBLEScanner(radio, "", clockwork.NewFakeClock())

	res := s.ScanForServiceData(context.Background(), "E4:B1:37:97:BA:CC", time.Second)
	assert.True(t, res.Found)
	assert.Equal(t, -70, res.RSSI)
}

func TestScanForServiceData_Timeout(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	radio := newFakeRadio(identityAdvert([]byte("FFFFFFFFFFFF"), -50))
	s := NewBLEScanner(radio, "", clock)

	done := make(chan ScanResult, 1)
	go func() {
		done <- s.ScanForServiceData(context.Background(), "E4B13797BACC", 5*time.Second)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)

	select {
	case res := <-done:
		assert.False(t, res.Found)
		assert.Zero(t, res.RSSI)
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not time out")
	}
	assert.Equal(t, int32(1), radio.stopCalls.Load())
}

func TestScanForServiceData_ContextCanceled(t *testing.T) {
	t.Parallel()

	radio := newFakeRadio()
	s := NewBLEScanner(radio, "", clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-radio.started
		cancel()
	}()

	res := s.ScanForServiceData(ctx, "E4B13797BACC", time.Minute)
	assert.False(t, res.Found)
	assert.Equal(t, int32(1), radio.stopCalls.Load())
}

// lateRadio refuses StopScan until its scan has registered, which happens
// a moment after Scan is called, like a real adapter.
type lateRadio struct {
	stopCh   chan struct{}
	delay    time.Duration
	mu       sync.Mutex
	scanning bool
	refused  atomic.Int32
}

func (r *lateRadio) Enable() error {
	return nil
}

func (r *lateRadio) Scan(func(Advertisement)) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	r.scanning = true
	r.mu.Unlock()
	<-r.stopCh
	r.mu.Lock()
	r.scanning = false
	r.mu.Unlock()
	return nil
}

func (r *lateRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.scanning {
		r.refused.Add(1)
		return errors.New("not scanning")
	}
	close(r.stopCh)
	r.scanning = false
	return nil
}

func (r *lateRadio) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

func TestScanForServiceData_CanceledBeforeScanRegisters(t *testing.T) {
	t.Parallel()

	radio := &lateRadio{stopCh: make(chan struct{}), delay: 20 * time.Millisecond}
	s := NewBLEScanner(radio, "", clockwork.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.ScanForServiceData(ctx, "E4B13797BACC", time.Minute)
	assert.False(t, res.Found)
	assert.Positive(t, radio.refused.Load(), "first StopScan lands before the scan registers")
	assert.False(t, radio.active(), "radio still scanning after return")

	// the single scan slot is free again
	select {
	case <-radio.stopCh:
	default:
		t.Fatal("scan was never stopped")
	}
}

// burstRadio delivers its adverts and returns without waiting for StopScan.
type burstRadio struct {
	adverts []Advertisement
}

func (*burstRadio) Enable() error { return nil }
func (*burstRadio) StopScan() error { return nil }

func (r *burstRadio) Scan(onAdvert func(Advertisement)) error {
	for _, adv := range r.adverts {
		onAdvert(adv)
	}
	return nil
}

func TestScanForServiceData_MatchThenScanReturns(t *testing.T) {
	t.Parallel()

	radio := &burstRadio{adverts: []Advertisement{identityAdvert([]byte("E4B13797BACC"), -55)}}
	s := NewBLEScanner(radio, "", clockwork.NewFakeClock())

	for range 20 {
		res := s.ScanForServiceData(context.Background(), "E4B13797BACC", time.Second)
		require.True(t, res.Found)
		assert.Equal(t, -55, res.RSSI)
	}
}

func TestScanForServiceData_RadioFailures(t *testing.T) {
	t.Parallel()

	noRadio := newFakeRadio()
	noRadio.enableErr = errors.New("no adapter")
	res := NewBLEScanner(noRadio, "", clockwork.NewFakeClock()).
		ScanForServiceData(context.Background(), "AA", time.Second)
	assert.False(t, res.Found)

	broken := newFakeRadio()
	broken.scanErr = errors.New("operation not permitted")
	res = NewBLEScanner(broken, "", clockwork.NewFakeClock()).
		ScanForServiceData(context.Background(), "AA", time.Second)
	assert.False(t, res.Found)
	assert.Zero(t, broken.stopCalls.Load())

	empty := NewBLEScanner(newFakeRadio(), "", clockwork.NewFakeClock()).
		ScanForServiceData(context.Background(), " : ", time.Second)
	assert.False(t, empty.Found)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AABBCC", Normalize("AA:BB:CC"))
	assert.Equal(t, "AABBCC", Normalize("aabbcc"))
	assert.Equal(t, "AABBCC", Normalize(" aa:Bb:cC\n"))
	assert.Equal(t, Normalize("AA:BB:CC"), Normalize("aabbcc"))
}

func TestNormalize_Property(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){0,7}`).Draw(t, "identity")
		if Normalize(raw) != Normalize(Normalize(raw)) {
			t.Fatalf("normalize not idempotent for %q", raw)
		}
		bare := strings.ToLower(strings.ReplaceAll(raw, ":", ""))
		if Normalize(raw) != Normalize(bare) {
			t.Fatalf("%q and %q normalize differently", raw, bare)
		}
	})
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "E4B13797BACC", DecodePayload([]byte("E4B13797BACC")))
	assert.Equal(t, "AB12", DecodePayload([]byte("AB12\x00\x00")))
	assert.Equal(t, "ff00e4", DecodePayload([]byte{0xff, 0x00, 0xe4}))
	assert.Empty(t, DecodePayload(nil))
}
