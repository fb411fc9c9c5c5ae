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

package identity

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Patterns are the banner fragments a CC2 controller prints on boot and in
// reply to a query.
type Patterns struct {
	// IdentityPrefix starts the identity line, e.g. "[ALL ]: Device: Shell".
	IdentityPrefix string
	// IdentityMarker precedes the address, e.g. "ID:".
	IdentityMarker string
	// SplitMarker starts the second half of an identity line the firmware
	// broke in two, e.g. "; ID:".
	SplitMarker   string
	VersionPrefix string
	VersionMarker string
}

func DefaultPatterns() Patterns {
	return Patterns{
		IdentityPrefix: "[ALL ]: Device: Shell",
		IdentityMarker: "ID:",
		SplitMarker:    "; ID:",
		VersionPrefix:  "[ALL ]: CoolCure2 - Version:",
		VersionMarker:  "Version:",
	}
}

// classify inspects one complete line. The first matching rule wins and an
// empty payload is never a capture.
func (p Patterns) classify(line string) (Field, string) {
	switch {
	case strings.HasPrefix(line, p.IdentityPrefix) && strings.Contains(line, p.IdentityMarker):
		return FieldAddress, after(line, p.IdentityMarker)
	case strings.HasPrefix(strings.TrimSpace(line), p.SplitMarker):
		return FieldAddress, after(line, p.IdentityMarker)
	case strings.HasPrefix(line, p.VersionPrefix) && strings.Contains(line, p.VersionMarker):
		return FieldVersion, after(line, p.VersionMarker)
	}
	return "", ""
}

func after(line, marker string) string {
	_, rest, ok := strings.Cut(line, marker)
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}

// lineAssembler turns arbitrarily chunked reads into complete lines.
// Bytes are split before decoding so a multi-byte rune cut by the
// transport is not mangled.
type lineAssembler struct {
	decoder *encoding.Decoder
	pending []byte
}

func newLineAssembler() *lineAssembler {
	return &lineAssembler{decoder: unicode.UTF8.NewDecoder()}
}

func (a *lineAssembler) feed(chunk []byte) []string {
	a.pending = append(a.pending, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(a.pending, '\n')
		if idx < 0 {
			break
		}
		raw := bytes.TrimRight(a.pending[:idx], "\r")
		lines = append(lines, a.decode(raw))
		a.pending = a.pending[idx+1:]
	}
	if len(a.pending) == 0 {
		a.pending = nil
	}
	return lines
}

func (a *lineAssembler) decode(raw []byte) string {
	out, err := a.decoder.Bytes(raw)
	if err != nil {
		log.Debug().Err(err).Hex("raw", raw).Msg("serial line decode failed")
		return strings.ToValidUTF8(string(raw), "�")
	}
	if bytes.ContainsRune(out, '�') && !bytes.ContainsRune(raw, '�') {
		log.Debug().Hex("raw", raw).Msg("serial noise replaced in line")
	}
	return string(out)
}
