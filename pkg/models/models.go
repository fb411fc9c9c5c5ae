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

// Package models holds the event types the station broadcasts to
// subscribers such as the CLI and the MQTT publisher.
package models

import "encoding/json"

const (
	NotificationAdapterAttached  = "adapter.attached"
	NotificationAdapterDetached  = "adapter.detached"
	NotificationIdentityField    = "identity.field"
	NotificationIdentityRecorded = "identity.recorded"
	NotificationFlashStarted     = "flash.started"
	NotificationFlashFinished    = "flash.finished"
	NotificationPrinterFound     = "printer.found"
	NotificationPrintFinished    = "print.finished"
	NotificationUpdateFinished   = "update.finished"
)

type Notification struct {
	Method string
	Params json.RawMessage
}

type AdapterParams struct {
	Port       string `json:"port"`
	VendorID   string `json:"vendorId,omitempty"`
	ProductID  string `json:"productId,omitempty"`
	Descriptor string `json:"descriptor,omitempty"`
}

type IdentityFieldParams struct {
	Port  string `json:"port"`
	Field string `json:"field"`
	Value string `json:"value"`
}

type IdentityParams struct {
	Port            string `json:"port"`
	Address         string `json:"address,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	Error           string `json:"error,omitempty"`
	ElapsedMs       int64  `json:"elapsedMs"`
	Complete        bool   `json:"complete"`
}

type FlashParams struct {
	Port       string `json:"port"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Success    bool   `json:"success"`
}

type PrinterParams struct {
	Address string `json:"address,omitempty"`
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
	Found   bool   `json:"found"`
}

type PrintParams struct {
	Identity string `json:"identity"`
	Error    string `json:"error,omitempty"`
	Copies   int    `json:"copies"`
	Success  bool   `json:"success"`
}

type UpdateParams struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
