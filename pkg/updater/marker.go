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

package updater

import (
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog/log"
)

// NoneVersion is the version reported when no marker is installed.
const NoneVersion = "none"

// Marker identifies a firmware release. The installed release is persisted
// as a Marker in the firmware directory.
type Marker struct {
	URL       string `json:"url"`
	Version   string `json:"version"`
	CreatedAt string `json:"createdAt"`
}

// None reports whether the marker is the "nothing installed" sentinel.
func (m Marker) None() bool {
	return m.Version == "" || strings.EqualFold(m.Version, NoneVersion)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseCreatedAt accepts RFC 3339 and zone-less ISO-8601 timestamps; the
// latter are read as UTC.
func parseCreatedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// versionGreater compares release versions numerically when both parse,
// and lexically otherwise.
func versionGreater(remote, local string) bool {
	rv, rerr := version.NewVersion(remote)
	lv, lerr := version.NewVersion(local)
	if rerr == nil && lerr == nil {
		return rv.GreaterThan(lv)
	}
	return remote > local
}

// Eligible reports whether remote should replace local. Anything beats
// no marker; otherwise both the version and the creation time must be
// strictly newer. A local marker without a readable timestamp is judged on
// version alone.
func Eligible(remote, local Marker) bool {
	if local.None() {
		return true
	}
	if !versionGreater(remote.Version, local.Version) {
		return false
	}

	localAt, ok := parseCreatedAt(local.CreatedAt)
	if !ok {
		return true
	}
	remoteAt, ok := parseCreatedAt(remote.CreatedAt)
	if ok && remoteAt.After(localAt) {
		return true
	}

	log.Warn().
		Str("local_version", local.Version).
		Str("remote_version", remote.Version).
		Str("local_created_at", local.CreatedAt).
		Str("remote_created_at", remote.CreatedAt).
		Msg("remote firmware has a newer version but is not newer by date, skipping")
	return false
}
