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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelTSPL(t *testing.T) {
	t.Parallel()

	got := string(DefaultLabel().TSPL("E4B13797BACC"))
	want := "SIZE 50 mm, 30 mm\n" +
		"GAP 2 mm, 0 mm\n" +
		"CLS\n" +
		"QRCODE 50,50,L,5,A,0,M2,S3,\"E4B13797BACC\"\n" +
		"TEXT 180,75,\"3\",0,1,1,\"Cannatrols\"\n" +
		"TEXT 180,125,\"3\",0,1,1,\"E4B13797BACC\"\n" +
		"PRINT 1\n"
	assert.Equal(t, want, got)
}

func TestLabelTSPL_CustomStock(t *testing.T) {
	t.Parallel()

	got := string(Label{Title: "Lab", WidthMM: 40, HeightMM: 20, GapMM: 3}.TSPL("X"))
	assert.Contains(t, got, "SIZE 40 mm, 20 mm\n")
	assert.Contains(t, got, "GAP 3 mm, 0 mm\n")
	assert.Contains(t, got, "\"Lab\"")
}

func TestTSPLQuote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "AA11", want: `"AA11"`},
		{in: `say "hi"`, want: `"say \["]hi\["]"`},
		{in: "two\r\nlines", want: `"twolines"`},
		{in: "", want: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tsplQuote(tt.in))
		})
	}
}
