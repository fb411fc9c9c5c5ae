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
	"bytes"
	"context"
	"errors"
	"flag"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/config"
	"github.com/cannatrols/cc2-provisioner/pkg/flasher"
	"github.com/cannatrols/cc2-provisioner/pkg/helpers/command"
	"github.com/cannatrols/cc2-provisioner/pkg/identity"
	"github.com/cannatrols/cc2-provisioner/pkg/printer"
	"github.com/cannatrols/cc2-provisioner/pkg/shared/httpclient"
	testhelpers "github.com/cannatrols/cc2-provisioner/pkg/testing/helpers"
	"github.com/cannatrols/cc2-provisioner/pkg/testing/mocks"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

const testFirmwareDir = "/firmware"

type stubRadio struct {
	stop    chan struct{}
	adverts []printer.Advertisement
	once    sync.Once
}

func newStubRadio(adverts ...printer.Advertisement) *stubRadio {
	return &stubRadio{adverts: adverts, stop: make(chan struct{})}
}

func (*stubRadio) Enable() error { return nil }

func (r *stubRadio) Scan(onAdvert func(printer.Advertisement)) error {
	for _, a := range r.adverts {
		onAdvert(a)
	}
	<-r.stop
	return nil
}

func (r *stubRadio) StopScan() error {
	r.once.Do(func() { close(r.stop) })
	return nil
}

type noDevices struct{}

func (noDevices) Discover(context.Context, time.Duration) ([]printer.Device, error) {
	return nil, printer.ErrNotSupported
}

type testApp struct {
	*App
	fs    *testhelpers.FSHelper
	exec  *mocks.MockCommandExecutor
	clock *clockwork.FakeClock
}

func newTestApp(t *testing.T, exec *mocks.MockCommandExecutor, radio printer.Radio) *testApp {
	t.Helper()

	cfg, err := config.NewConfig(t.TempDir(), config.BaseDefaults)
	require.NoError(t, err)
	cfg.SetAutoIdentify(false)

	if exec == nil {
		exec = testhelpers.NewMissingToolsExecutor()
	}
	if radio == nil {
		radio = newStubRadio()
	}
	fs := testhelpers.NewMemoryFS()
	clock := clockwork.NewFakeClock()

	app := NewApp(cfg, testFirmwareDir, Env{
		Exec:    exec,
		Fs:      fs.Fs,
		Radio:   radio,
		Classic: noDevices{},
		PortFactory: func(string, *serial.Mode) (identity.Port, error) {
			return nil, errors.New("no such device")
		},
		Clock: clock,
		HTTP:  httpclient.NewClient(),
	})
	t.Cleanup(app.Close)
	return &testApp{App: app, fs: fs, exec: exec, clock: clock}
}

func parseFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	f := SetupFlags(flag.NewFlagSet("test", flag.ContinueOnError))
	require.NoError(t, f.Pre(args))
	return f
}

func writeFirmware(t *testing.T, fs *testhelpers.FSHelper) {
	t.Helper()
	var names []string
	for _, img := range flasher.DefaultFileSet().Images() {
		names = append(names, img.Name)
	}
	require.NoError(t, fs.CreateFirmwareDir(testFirmwareDir, names...))
}

func TestPost_NoModeNotHandled(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil, nil)
	var out bytes.Buffer

	handled, err := parseFlags(t).Post(context.Background(), app.App, &out)
	require.NoError(t, err)
	assert.False(t, handled)

	handled, err = parseFlags(t, "-watch").Post(context.Background(), app.App, &out)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, out.String())
}

func TestPost_MissingValues(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"identify", "flash", "print", "ble-scan", "device-info"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			app := newTestApp(t, nil, nil)
			handled, err := parseFlags(t, "-"+name+"=").Post(context.Background(), app.App, &bytes.Buffer{})
			assert.True(t, handled)
			require.ErrorIs(t, err, ErrMissingValue)
		})
	}
}

func TestPost_Identify_PortUnavailable(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil, nil)
	var out bytes.Buffer

	handled, err := parseFlags(t, "-identify", "/dev/ttyUSB0").Post(context.Background(), app.App, &out)
	assert.True(t, handled)
	require.ErrorIs(t, err, identity.ErrPortOpen)
	assert.Empty(t, out.String())
}

func TestPost_FlashMissingFirmware(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil, nil)
	require.NoError(t, app.fs.CreateFirmwareDir(testFirmwareDir))
	var out bytes.Buffer

	handled, err := parseFlags(t, "-flash", "/dev/ttyUSB0").Post(context.Background(), app.App, &out)
	assert.True(t, handled)
	require.ErrorIs(t, err, ErrFlashFailed)
	require.ErrorIs(t, err, flasher.ErrMissingFiles)
	assert.Contains(t, out.String(), "Missing firmware files")
	app.exec.AssertNotCalled(t, "Capture", mock.Anything, "esptool", mock.Anything)
}

func TestPost_FlashSuccess(t *testing.T) {
	t.Parallel()

	exec := &mocks.MockCommandExecutor{}
	exec.On("Capture", mock.Anything, "esptool", mock.Anything).Return(command.Captured{}, nil).Once()
	app := newTestApp(t, testhelpers.AddMissingTools(exec), nil)
	writeFirmware(t, app.fs)
	var out bytes.Buffer

	handled, err := parseFlags(t, "-flash", "/dev/ttyUSB0").Post(context.Background(), app.App, &out)
	assert.True(t, handled)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Flashing completed successfully!")
	exec.AssertExpectations(t)
}

func TestPost_FirmwareInfo(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil, nil)
	writeFirmware(t, app.fs)
	var out bytes.Buffer

	handled, err := parseFlags(t, "-firmware-info").Post(context.Background(), app.App, &out)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, out.String(), "Directory: "+testFirmwareDir)
	assert.Contains(t, out.String(), "Release: none")
	assert.Contains(t, out.String(), "Tool: esptool (not found)")
	assert.Contains(t, out.String(), "0x010000  CC2_Operation.ino.bin  2 bytes")
	assert.Contains(t, out.String(), "Ready to flash")
}

func TestPost_BindRejectsInvalidAddress(t *testing.T) {
	t.Parallel()

	exec := &mocks.MockCommandExecutor{}
	app := newTestApp(t, exec, nil)

	handled, err := parseFlags(t, "-bind", "not-an-address").Post(context.Background(), app.App, &bytes.Buffer{})
	assert.True(t, handled)
	require.ErrorIs(t, err, printer.ErrInvalidAddress)
	exec.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything)
}

func TestPost_BindAndRelease(t *testing.T) {
	t.Parallel()

	const addr = "DC:0D:30:AA:BB:01"
	exec := &mocks.MockCommandExecutor{}
	exec.On("Capture", mock.Anything, "sudo", []string{"-n", "rfcomm"}).
		Return(command.Captured{}, nil).Once()
	exec.On("Capture", mock.Anything, "sudo", []string{"-n", "rfcomm", "bind", "0", addr}).
		Return(command.Captured{}, nil).Once()
	exec.On("Capture", mock.Anything, "sudo", []string{"-n", "rfcomm"}).
		Return(command.Captured{Stdout: []byte("rfcomm0: " + addr + " channel 1 clean\n")}, nil).Once()
	exec.On("Capture", mock.Anything, "sudo", []string{"-n", "rfcomm", "release", "0"}).
		Return(command.Captured{}, nil).Once()
	app := newTestApp(t, exec, nil)
	var out bytes.Buffer

	handled, err := parseFlags(t, "-bind", addr).Post(context.Background(), app.App, &out)
	assert.True(t, handled)
	require.NoError(t, err)

	handled, err = parseFlags(t, "-release").Post(context.Background(), app.App, &out)
	assert.True(t, handled)
	require.NoError(t, err)

	assert.Equal(t, "Bound "+addr+"\nReleased\n", out.String())
	exec.AssertExpectations(t)
}

func TestPost_BLEScanFound(t *testing.T) {
	t.Parallel()

	radio := newStubRadio(printer.Advertisement{
		Address: "E4:B1:37:97:BA:CE",
		RSSI:    -61,
		ServiceData: []printer.ServiceData{{
			UUID: printer.DefaultServiceDataUUID,
			Data: []byte("e4:b1:37:97:ba:ce"),
		}},
	})
	app := newTestApp(t, nil, radio)
	var out bytes.Buffer

	handled, err := parseFlags(t, "-ble-scan", "E4B13797BACE").Post(context.Background(), app.App, &out)
	assert.True(t, handled)
	require.NoError(t, err)
	assert.Equal(t, "Found E4:B1:37:97:BA:CE (RSSI -61)\n", out.String())
}

func TestPost_PrintWithoutPrinter(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, nil, nil)

	handled, err := parseFlags(t, "-print", "E4B13797BACE", "-copies", "2").
		Post(context.Background(), app.App, &bytes.Buffer{})
	assert.True(t, handled)
	require.ErrorIs(t, err, printer.ErrPrinterNotFound)
}

func TestNewApp_UsesConfiguredFirmwareDir(t *testing.T) {
	t.Parallel()

	cfg, err := config.NewConfig(t.TempDir(), config.BaseDefaults)
	require.NoError(t, err)
	cfg.SetFirmwareDir("/opt/cc2")

	app := NewApp(cfg, testFirmwareDir, Env{
		Exec:    testhelpers.NewMissingToolsExecutor(),
		Fs:      afero.NewMemMapFs(),
		Radio:   newStubRadio(),
		Classic: noDevices{},
		Clock:   clockwork.NewFakeClock(),
		HTTP:    httpclient.NewClient(),
	})
	defer app.Close()

	assert.Equal(t, "/opt/cc2", app.FirmwareDir)
	assert.Equal(t, "/opt/cc2", app.Flasher.Info(app.FirmwareDir).Dir)
}

func TestPost_DeviceInfoLinux(t *testing.T) {
	t.Parallel()
	if runtime.GOOS != "linux" {
		t.Skip("udev properties are linux only")
	}

	exec := &mocks.MockCommandExecutor{}
	exec.On("Output", mock.Anything, "udevadm",
		[]string{"info", "--name", "/dev/ttyUSB0", "--query", "property"}).
		Return("ID_VENDOR_ID=0403\nID_MODEL_ID=6014\n", nil).Once()
	app := newTestApp(t, exec, nil)
	var out bytes.Buffer

	handled, err := parseFlags(t, "-device-info", "/dev/ttyUSB0").Post(context.Background(), app.App, &out)
	assert.True(t, handled)
	require.NoError(t, err)
	assert.Equal(t, "ID_VENDOR_ID=0403\nID_MODEL_ID=6014\n\n", out.String())
	exec.AssertExpectations(t)
}
