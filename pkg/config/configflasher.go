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

type Flasher struct {
	Tool        string `toml:"tool" validate:"required"`
	Chip        string `toml:"chip" validate:"required"`
	Bootloader  string `toml:"bootloader" validate:"required"`
	Partitions  string `toml:"partitions" validate:"required"`
	Application string `toml:"application" validate:"required"`
	Filesystem  string `toml:"filesystem" validate:"required"`
	BaudRate    int    `toml:"baud_rate" validate:"gt=0"`
}

func (c *Instance) Flasher() Flasher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Flasher
}

func (c *Instance) SetFlasherTool(tool string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Flasher.Tool = tool
}
