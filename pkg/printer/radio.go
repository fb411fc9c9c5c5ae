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

package printer

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// TinyGoRadio adapts the platform BLE adapter to Radio.
type TinyGoRadio struct {
	adapter *bluetooth.Adapter
}

func NewRadio() *TinyGoRadio {
	return &TinyGoRadio{adapter: bluetooth.DefaultAdapter}
}

func (r *TinyGoRadio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable adapter: %w", err)
	}
	return nil
}

func (r *TinyGoRadio) Scan(onAdvert func(Advertisement)) error {
	err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := Advertisement{
			Address:   result.Address.String(),
			LocalName: result.LocalName(),
			RSSI:      result.RSSI,
		}
		for _, el := range result.ServiceData() {
			adv.ServiceData = append(adv.ServiceData, ServiceData{
				UUID: el.UUID.String(),
				Data: el.Data,
			})
		}
		onAdvert(adv)
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (r *TinyGoRadio) StopScan() error {
	if err := r.adapter.StopScan(); err != nil {
		return fmt.Errorf("failed to stop scan: %w", err)
	}
	return nil
}
