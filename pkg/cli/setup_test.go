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

package cli

import (
	"path/filepath"
	"testing"

	"github.com/cannatrols/cc2-provisioner/pkg/config"
	"github.com/cannatrols/cc2-provisioner/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:paralleltest // replaces the global logger
func TestSetup(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	t.Setenv(config.CfgEnv, "")

	root := t.TempDir()
	paths := helpers.Paths{
		ConfigDir:   filepath.Join(root, "config"),
		DataDir:     filepath.Join(root, "data"),
		LogDir:      filepath.Join(root, "log"),
		FirmwareDir: filepath.Join(root, "data", "firmware"),
	}

	cfg, err := Setup(paths, config.BaseDefaults, true, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(paths.ConfigDir, config.CfgFile), cfg.Path())
	assert.FileExists(t, cfg.Path())
	assert.DirExists(t, paths.FirmwareDir)
	assert.DirExists(t, paths.LogDir)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
