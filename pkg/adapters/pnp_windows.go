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

package adapters

import (
	"strings"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

// enumeratePnP lists present Plug and Play devices whose instance id
// carries the bridge VID and PID. FTDI chips show up twice, as the USB
// device and as its FTDIBUS port child; entries that own a COM port win.
func enumeratePnP(vid, pid string) []AdapterMatch {
	devInfo, err := windows.SetupDiGetClassDevsEx(
		nil,
		"",
		0,
		windows.DIGCF_ALLCLASSES|windows.DIGCF_PRESENT,
		0,
		"",
	)
	if err != nil {
		log.Debug().Err(err).Msg("failed to get device info set")
		return nil
	}
	defer func() {
		_ = windows.SetupDiDestroyDeviceInfoList(devInfo)
	}()

	vidToken := "VID_" + strings.ToUpper(vid)
	pidToken := "PID_" + strings.ToUpper(pid)

	var all []AdapterMatch
	withPort := 0
	for i := 0; ; i++ {
		data, err := windows.SetupDiEnumDeviceInfo(devInfo, i)
		if err != nil {
			break
		}

		instanceID, err := windows.SetupDiGetDeviceInstanceId(devInfo, data)
		if err != nil {
			continue
		}
		upper := strings.ToUpper(instanceID)
		if !strings.Contains(upper, vidToken) || !strings.Contains(upper, pidToken) {
			continue
		}

		m := AdapterMatch{
			VendorID:   strings.ToLower(vid),
			ProductID:  strings.ToLower(pid),
			PortName:   devicePortName(devInfo, data),
			Descriptor: instanceID,
			Topology:   deviceTopology(devInfo, data),
		}
		if name := registryString(devInfo, data, windows.SPDRP_FRIENDLYNAME); name != "" {
			m.Descriptor = name + " (" + instanceID + ")"
		}
		if m.PortName != "" {
			withPort++
		}
		all = append(all, m)
	}

	if withPort == 0 {
		return all
	}
	owned := make([]AdapterMatch, 0, withPort)
	for _, m := range all {
		if m.PortName != "" {
			owned = append(owned, m)
		}
	}
	return owned
}

// devicePortName reads the COM port name from the device's hardware key.
func devicePortName(devInfo windows.DevInfo, data *windows.DevInfoData) string {
	key, err := windows.SetupDiOpenDevRegKey(
		devInfo,
		data,
		windows.DICS_FLAG_GLOBAL,
		0,
		windows.DIREG_DEV,
		windows.KEY_READ,
	)
	if err != nil {
		return ""
	}
	defer func() {
		_ = windows.RegCloseKey(key)
	}()

	var buf [256]uint16
	bufLen := uint32(len(buf) * 2)
	var valType uint32
	err = windows.RegQueryValueEx(
		key,
		windows.StringToUTF16Ptr("PortName"),
		nil,
		&valType,
		(*byte)(unsafe.Pointer(&buf[0])), //nolint:gosec // required for Windows API
		&bufLen,
	)
	if err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:])
}

func deviceTopology(devInfo windows.DevInfo, data *windows.DevInfoData) string {
	prop, err := windows.SetupDiGetDeviceRegistryProperty(devInfo, data, windows.SPDRP_LOCATION_PATHS)
	if err != nil {
		return ""
	}
	switch v := prop.(type) {
	case []string:
		if len(v) > 0 {
			return extractWindowsUSBTopology(v[0])
		}
	case string:
		return extractWindowsUSBTopology(v)
	}
	return ""
}

func registryString(devInfo windows.DevInfo, data *windows.DevInfoData, prop windows.SPDRP) string {
	v, err := windows.SetupDiGetDeviceRegistryProperty(devInfo, data, prop)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// usbTopologyPath looks a COM port up among the present Ports class
// devices and returns its USB location.
func usbTopologyPath(devicePath string) string {
	devicePath = strings.ToUpper(strings.TrimSpace(devicePath))
	if devicePath == "" {
		return ""
	}

	classGUID := windows.GUID{
		Data1: 0x4d36e978,
		Data2: 0xe325,
		Data3: 0x11ce,
		Data4: [8]byte{0xbf, 0xc1, 0x08, 0x00, 0x2b, 0xe1, 0x03, 0x18},
	} // GUID_DEVCLASS_PORTS

	devInfo, err := windows.SetupDiGetClassDevsEx(&classGUID, "", 0, windows.DIGCF_PRESENT, 0, "")
	if err != nil {
		return ""
	}
	defer func() {
		_ = windows.SetupDiDestroyDeviceInfoList(devInfo)
	}()

	for i := 0; ; i++ {
		data, err := windows.SetupDiEnumDeviceInfo(devInfo, i)
		if err != nil {
			return ""
		}
		if strings.EqualFold(devicePortName(devInfo, data), devicePath) {
			return deviceTopology(devInfo, data)
		}
	}
}
