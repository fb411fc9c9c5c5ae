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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "CC2_PROVISIONER_CFG"
	CfgFile       = "config.toml"
)

type Values struct {
	FirmwareDir  string    `toml:"firmware_dir,omitempty"`
	Adapter      Adapter   `toml:"adapter"`
	Serial       Serial    `toml:"serial"`
	Flasher      Flasher   `toml:"flasher"`
	Printer      Printer   `toml:"printer"`
	Update       Update    `toml:"update"`
	Station      Station   `toml:"station"`
	Publisher    Publisher `toml:"publisher,omitempty"`
	Telemetry    Telemetry `toml:"telemetry"`
	ConfigSchema int       `toml:"config_schema"`
	DebugLogging bool      `toml:"debug_logging"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Adapter: Adapter{
		VendorID:       "0403",
		ProductID:      "6014",
		ProductHint:    "FT232H",
		PortGlob:       "/dev/ttyUSB*",
		PollInterval:   "1s",
		CommandTimeout: "3s",
	},
	Serial: Serial{
		BaudRate:       921600,
		Duration:       "5s",
		IdentityPrefix: "[ALL ]: Device: Shell",
		IdentityMarker: "ID:",
		SplitMarker:    "; ID:",
		VersionPrefix:  "[ALL ]: CoolCure2 - Version:",
		VersionMarker:  "Version:",
	},
	Flasher: Flasher{
		Tool:        "esptool",
		Chip:        "esp32s3",
		BaudRate:    921600,
		Bootloader:  "CC2_Operation.ino.bootloader.bin",
		Partitions:  "CC2_Operation.ino.partitions.bin",
		Application: "CC2_Operation.ino.bin",
		Filesystem:  "CC2_Operation.ino.filesystem.bin",
	},
	Printer: Printer{
		Name:            "Printer001",
		Device:          "/dev/rfcomm0",
		Channel:         "0",
		ServiceDataUUID: "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
		ScanTimeout:     "5s",
		WriteTimeout:    "5s",
		UseSudo:         true,
		Label: Label{
			Title:    "Cannatrols",
			WidthMM:  50,
			HeightMM: 30,
			GapMM:    2,
		},
	},
	Update: Update{
		ProbeURL:     "https://www.google.com",
		ProbeTimeout: "5s",
	},
	Station: Station{
		AutoIdentify: true,
		PrintCopies:  1,
	},
	Publisher: Publisher{
		Topic: "cc2/provisioner/events",
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Fields missing from the file keep their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	if err := Validate(&newVals); err != nil {
		return err
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfgPath
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

// FirmwareDir returns the configured firmware root, or fallback when unset.
func (c *Instance) FirmwareDir(fallback string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.FirmwareDir == "" {
		return fallback
	}
	return c.vals.FirmwareDir
}

func (c *Instance) SetFirmwareDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.FirmwareDir = dir
}

// parseDuration reads a validated duration string. Validation on Load makes
// the fallback unreachable for files on disk, but values set in code may
// still be empty.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
