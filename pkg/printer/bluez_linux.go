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
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZDiscoverer runs classic inquiry through BlueZ on the system bus.
type BlueZDiscoverer struct{}

func NewDiscoverer() *BlueZDiscoverer {
	return &BlueZDiscoverer{}
}

func (*BlueZDiscoverer) Discover(ctx context.Context, burst time.Duration) ([]Device, error) {
	bus, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close system bus")
		}
	}()

	objs, err := getManagedObjects(ctx, bus)
	if err != nil {
		return nil, err
	}

	var adapters []dbus.ObjectPath
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok {
			adapters = append(adapters, path)
		}
	}
	if len(adapters) == 0 {
		return nil, errors.New("no bluetooth adapter found")
	}

	for _, ap := range adapters {
		obj := bus.Object(bluezService, ap)
		if call := obj.CallWithContext(ctx, adapterIface+".StartDiscovery", 0); call.Err != nil {
			// InProgress is fine, another client is already scanning.
			log.Debug().Err(call.Err).Str("adapter", string(ap)).Msg("StartDiscovery")
			continue
		}
		defer func(p dbus.ObjectPath) {
			// StopDiscovery must run even when ctx is already done.
			_ = bus.Object(bluezService, p).Call(adapterIface+".StopDiscovery", 0).Err
		}(ap)
	}

	timer := time.NewTimer(burst)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, fmt.Errorf("discovery interrupted: %w", ctx.Err())
	case <-timer.C:
	}

	// read before the deferred StopDiscovery clears RSSI
	objs, err = getManagedObjects(ctx, bus)
	if err != nil {
		return nil, err
	}
	return devicesFromObjects(objs), nil
}

func getManagedObjects(ctx context.Context, bus *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	call := bus.Object(bluezService, "/").CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// devicesFromObjects keeps devices seen by the running inquiry. BlueZ
// also lists paired and cached devices, but only sets RSSI on those it
// has heard during discovery.
func devicesFromObjects(objs managedObjects) []Device {
	devices := make([]Device, 0, len(objs))
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if _, ok := props["RSSI"]; !ok {
			continue
		}
		var d Device
		if v, ok := props["Name"]; ok {
			d.Name, _ = v.Value().(string)
		}
		if v, ok := props["Address"]; ok {
			d.Address, _ = v.Value().(string)
		}
		if d.Address == "" {
			d.Address = macFromPath(path)
		}
		devices = append(devices, d)
	}
	return devices
}

// macFromPath recovers the address from a BlueZ object path such as
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}
