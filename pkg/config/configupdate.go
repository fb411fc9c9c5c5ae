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

type Update struct {
	Endpoint     string `toml:"endpoint,omitempty" validate:"omitempty,url"`
	ProbeURL     string `toml:"probe_url" validate:"required,url"`
	ProbeTimeout string `toml:"probe_timeout" validate:"required,duration"`
}

func (c *Instance) Update() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Update
}

func (c *Instance) ProbeTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Update.ProbeTimeout, 5*time.Second)
}

func (c *Instance) SetUpdateEndpoint(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Update.Endpoint = endpoint
}
