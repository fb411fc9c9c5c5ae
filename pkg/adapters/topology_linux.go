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
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// usbTopologyPath resolves a device node to the physical USB port it is
// plugged into. It returns "" for non-USB nodes or when /sys is missing.
func usbTopologyPath(devicePath string) string {
	if devicePath == "" {
		return ""
	}

	info, err := os.Stat(devicePath)
	if err != nil {
		log.Debug().Str("path", devicePath).Err(err).Msg("cannot stat device")
		return ""
	}
	stat, ok := info.Sys().(*unix.Stat_t)
	if !ok {
		return ""
	}

	rdev := uint64(stat.Rdev) //nolint:unconvert // Rdev width differs per arch
	sysPath := fmt.Sprintf("/sys/dev/char/%d:%d", unix.Major(rdev), unix.Minor(rdev))
	resolved, err := filepath.EvalSymlinks(sysPath)
	if err != nil {
		log.Debug().Str("path", devicePath).Str("sysPath", sysPath).Err(err).
			Msg("cannot resolve sysfs symlink")
		return ""
	}
	return extractUSBTopology(resolved)
}
