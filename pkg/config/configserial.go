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

package config

import "time"

// Serial holds the identity session settings. The prefix and marker
// fields describe the banner lines the CC2 firmware prints.
type Serial struct {
	Duration       string `toml:"duration" validate:"required,duration"`
	IdentityPrefix string `toml:"identity_prefix" validate:"required"`
	IdentityMarker string `toml:"identity_marker" validate:"required"`
	SplitMarker    string `toml:"split_marker" validate:"required"`
	VersionPrefix  string `toml:"version_prefix" validate:"required"`
	VersionMarker  string `toml:"version_marker" validate:"required"`
	BaudRate       int    `toml:"baud_rate" validate:"gt=0"`
}

func (c *Instance) Serial() Serial {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial
}

func (c *Instance) SerialDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Serial.Duration, 5*time.Second)
}

func (c *Instance) SetSerialDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.Duration = d.String()
}
