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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cannatrols/cc2-provisioner/internal/telemetry"
	"github.com/cannatrols/cc2-provisioner/pkg/cli"
	"github.com/cannatrols/cc2-provisioner/pkg/config"
	"github.com/cannatrols/cc2-provisioner/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(flag.CommandLine)
	if err := flags.Pre(os.Args[1:]); err != nil {
		return err
	}

	var logWriters []io.Writer
	if *flags.Debug {
		logWriters = []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}}
	}

	paths := helpers.DefaultPaths()
	cfg, err := cli.Setup(paths, config.BaseDefaults, *flags.Debug, logWriters)
	if err != nil {
		return err
	}
	defer telemetry.Close()

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(cfg, paths.FirmwareDir, cli.DefaultEnv())
	defer app.Close()

	handled, err := flags.Post(ctx, app, os.Stdout)
	if handled {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	log.Info().Str("version", config.AppVersion).Msg("provisioner started")
	return cli.Watch(ctx, app, os.Stdout)
}
