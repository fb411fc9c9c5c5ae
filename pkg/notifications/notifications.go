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

// Package notifications builds station events and hands them to a sink.
package notifications

import (
	"encoding/json"

	"github.com/cannatrols/cc2-provisioner/pkg/models"
	"github.com/rs/zerolog/log"
)

// Sink receives notifications. Implementations must not block.
type Sink interface {
	Publish(notif models.Notification)
}

func send(ns Sink, method string, payload any) {
	if ns == nil {
		return
	}
	var params json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("error marshalling notification params")
			return
		}
		params = data
	}
	ns.Publish(models.Notification{Method: method, Params: params})
}

func AdapterAttached(ns Sink, payload models.AdapterParams) {
	send(ns, models.NotificationAdapterAttached, payload)
}

func AdapterDetached(ns Sink, port string) {
	send(ns, models.NotificationAdapterDetached, models.AdapterParams{Port: port})
}

func IdentityField(ns Sink, payload models.IdentityFieldParams) {
	send(ns, models.NotificationIdentityField, payload)
}

func IdentityRecorded(ns Sink, payload models.IdentityParams) {
	send(ns, models.NotificationIdentityRecorded, payload)
}

func FlashStarted(ns Sink, port string) {
	send(ns, models.NotificationFlashStarted, models.FlashParams{Port: port})
}

func FlashFinished(ns Sink, payload models.FlashParams) {
	send(ns, models.NotificationFlashFinished, payload)
}

func PrinterFound(ns Sink, payload models.PrinterParams) {
	send(ns, models.NotificationPrinterFound, payload)
}

func PrintFinished(ns Sink, payload models.PrintParams) {
	send(ns, models.NotificationPrintFinished, payload)
}

func UpdateFinished(ns Sink, payload models.UpdateParams) {
	send(ns, models.NotificationUpdateFinished, payload)
}
