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
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// usbTopologyPattern matches sysfs USB topology names like "1-2", "1-2.3".
	usbTopologyPattern = regexp.MustCompile(`^\d+-[\d.]+$`)
	// usbPortPattern matches Windows location path segments like "USB(2)".
	usbPortPattern = regexp.MustCompile(`USB\((\d+)\)`)
	usbRootPattern = regexp.MustCompile(`USBROOT\((\d+)\)`)
)

// extractUSBTopology walks up a resolved sysfs device path and returns the
// first USB topology component, e.g. "1-2.3" for
// /sys/devices/.../usb1/1-2/1-2.3/1-2.3:1.0/ttyUSB0/tty/ttyUSB0.
func extractUSBTopology(sysfsPath string) string {
	current := sysfsPath
	for current != "/" && current != "." && current != "" {
		base := filepath.Base(current)
		if usbTopologyPattern.MatchString(base) {
			return base
		}
		current = filepath.Dir(current)
	}
	return ""
}

// extractWindowsUSBTopology converts a Windows location path such as
// "PCIROOT(0)#PCI(1400)#USBROOT(0)#USB(1)#USB(2)" into the Linux style
// "0-1.2" so both platforms report the same shape.
func extractWindowsUSBTopology(locationPath string) string {
	idx := strings.Index(locationPath, "USBROOT(")
	if idx == -1 {
		return ""
	}
	usbPortion := locationPath[idx:]

	matches := usbPortPattern.FindAllStringSubmatch(usbPortion, -1)
	if len(matches) == 0 {
		return ""
	}
	ports := make([]string, 0, len(matches))
	for _, m := range matches {
		ports = append(ports, m[1])
	}

	busID := "0"
	if m := usbRootPattern.FindStringSubmatch(usbPortion); len(m) >= 2 {
		busID = m[1]
	}
	return busID + "-" + strings.Join(ports, ".")
}
