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

// Station controls what the supervisor does on its own when an adapter
// appears.
type Station struct {
	PrintCopies  int  `toml:"print_copies" validate:"gte=1"`
	AutoIdentify bool `toml:"auto_identify"`
	AutoPrint    bool `toml:"auto_print"`
}

type Publisher struct {
	MQTTBroker string `toml:"mqtt_broker,omitempty"`
	Topic      string `toml:"topic,omitempty"`
}

type Telemetry struct {
	DSN            string `toml:"dsn,omitempty" validate:"omitempty,url"`
	ErrorReporting bool   `toml:"error_reporting"`
}

func (c *Instance) Station() Station {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Station
}

func (c *Instance) SetAutoIdentify(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Station.AutoIdentify = enabled
}

func (c *Instance) SetAutoPrint(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Station.AutoPrint = enabled
}

func (c *Instance) Publisher() Publisher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Publisher
}

func (c *Instance) Telemetry() Telemetry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Telemetry
}
