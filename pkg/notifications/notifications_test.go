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

package notifications

import (
	"testing"

	"github.com/cannatrols/cc2-provisioner/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	got []models.Notification
}

func (s *recordingSink) Publish(n models.Notification) {
	s.got = append(s.got, n)
}

func TestNotificationsEncodeParams(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	IdentityRecorded(sink, models.IdentityParams{
		Port:            "/dev/ttyUSB0",
		Address:         "E4B13797BACC",
		FirmwareVersion: "2.3.1",
		Complete:        true,
	})
	AdapterDetached(sink, "/dev/ttyUSB0")

	require.Len(t, sink.got, 2)
	assert.Equal(t, models.NotificationIdentityRecorded, sink.got[0].Method)
	assert.JSONEq(t,
		`{"port":"/dev/ttyUSB0","address":"E4B13797BACC","firmwareVersion":"2.3.1","elapsedMs":0,"complete":true}`,
		string(sink.got[0].Params))
	assert.Equal(t, models.NotificationAdapterDetached, sink.got[1].Method)
	assert.JSONEq(t, `{"port":"/dev/ttyUSB0"}`, string(sink.got[1].Params))
}

func TestNotificationsNilSink(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		FlashStarted(nil, "/dev/ttyUSB0")
	})
}
