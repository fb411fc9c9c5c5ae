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

package helpers

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:paralleltest // mutates the global logger
func TestInitLogging(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  bool
		debug     bool
		wantLevel zerolog.Level
	}{
		{
			name:      "creates nested log directory",
			wantLevel: zerolog.InfoLevel,
		},
		{
			name:      "works when directory already exists",
			setupDir:  true,
			wantLevel: zerolog.InfoLevel,
		},
		{
			name:      "debug enables debug level",
			debug:     true,
			wantLevel: zerolog.DebugLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prevLogger := log.Logger
			prevLevel := zerolog.GlobalLevel()
			t.Cleanup(func() {
				log.Logger = prevLogger
				zerolog.SetGlobalLevel(prevLevel)
			})

			logDir := filepath.Join(t.TempDir(), "state", "logs")
			if tt.setupDir {
				require.NoError(t, os.MkdirAll(logDir, 0o750))
			}

			var console bytes.Buffer
			err := InitLogging(logDir, tt.debug, []io.Writer{&console})
			require.NoError(t, err)

			info, err := os.Stat(logDir)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
			if runtime.GOOS != "windows" && !tt.setupDir {
				assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
			}

			assert.Equal(t, tt.wantLevel, zerolog.GlobalLevel())

			log.Info().Str("port", "/dev/ttyUSB0").Msg("adapter attached")
			assert.Contains(t, console.String(), "adapter attached")
			assert.Contains(t, console.String(), "/dev/ttyUSB0")

			data, err := os.ReadFile(filepath.Join(logDir, LogFile))
			require.NoError(t, err)
			assert.Contains(t, string(data), "adapter attached")
		})
	}
}
