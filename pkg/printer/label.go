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
	"strings"
)

// Label is the physical label stock and the title line printed beside
// the QR code.
type Label struct {
	Title    string
	WidthMM  int
	HeightMM int
	GapMM    int
}

func DefaultLabel() Label {
	return Label{Title: "Cannatrols", WidthMM: 50, HeightMM: 30, GapMM: 2}
}

// TSPL renders one label for payload in the printer's command language.
func (l Label) TSPL(payload string) []byte {
	quoted := tsplQuote(payload)

	var b strings.Builder
	fmt.Fprintf(&b, "SIZE %d mm, %d mm\n", l.WidthMM, l.HeightMM)
	fmt.Fprintf(&b, "GAP %d mm, 0 mm\n", l.GapMM)
	b.WriteString("CLS\n")
	fmt.Fprintf(&b, "QRCODE 50,50,L,5,A,0,M2,S3,%s\n", quoted)
	fmt.Fprintf(&b, "TEXT 180,75,\"3\",0,1,1,%s\n", tsplQuote(l.Title))
	fmt.Fprintf(&b, "TEXT 180,125,\"3\",0,1,1,%s\n", quoted)
	b.WriteString("PRINT 1\n")
	return []byte(b.String())
}

// tsplQuote wraps s in double quotes. TSPL has no backslash escapes; an
// embedded quote is written as \["]. Line breaks would end the command.
func tsplQuote(s string) string {
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	return `"` + strings.ReplaceAll(s, `"`, `\["]`) + `"`
}
