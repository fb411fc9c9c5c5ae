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

type Printer struct {
	Name            string `toml:"name" validate:"required"`
	Device          string `toml:"device" validate:"required"`
	Channel         string `toml:"channel" validate:"required,numeric"`
	ServiceDataUUID string `toml:"service_data_uuid" validate:"required,uuid"`
	ScanTimeout     string `toml:"scan_timeout" validate:"required,duration"`
	WriteTimeout    string `toml:"write_timeout" validate:"required,duration"`
	Label           Label  `toml:"label"`
	UseSudo         bool   `toml:"use_sudo"`
}

type Label struct {
	Title    string `toml:"title"`
	WidthMM  int    `toml:"width_mm" validate:"gt=0"`
	HeightMM int    `toml:"height_mm" validate:"gt=0"`
	GapMM    int    `toml:"gap_mm" validate:"gte=0"`
}

func (c *Instance) Printer() Printer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Printer
}

func (c *Instance) PrinterScanTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Printer.ScanTimeout, 5*time.Second)
}

func (c *Instance) PrinterWriteTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Printer.WriteTimeout, 5*time.Second)
}

func (c *Instance) SetPrinterName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Printer.Name = name
}
