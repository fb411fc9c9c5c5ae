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

type Adapter struct {
	VendorID       string `toml:"vendor_id" validate:"required,hexid"`
	ProductID      string `toml:"product_id" validate:"required,hexid"`
	ProductHint    string `toml:"product_hint,omitempty"`
	PortGlob       string `toml:"port_glob" validate:"required"`
	PollInterval   string `toml:"poll_interval" validate:"required,duration"`
	CommandTimeout string `toml:"command_timeout" validate:"required,duration"`
}

func (c *Instance) Adapter() Adapter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Adapter
}

func (c *Instance) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Adapter.PollInterval, time.Second)
}

func (c *Instance) CommandTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Adapter.CommandTimeout, 3*time.Second)
}

func (c *Instance) SetAdapterSignature(vendorID, productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Adapter.VendorID = vendorID
	c.vals.Adapter.ProductID = productID
}
