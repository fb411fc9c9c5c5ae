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

//go:build !windows

package adapters

// enumeratePnP is only meaningful on Windows; elsewhere the bus listing
// and serial enumerator cover adapter discovery.
func enumeratePnP(_, _ string) []AdapterMatch {
	return nil
}
