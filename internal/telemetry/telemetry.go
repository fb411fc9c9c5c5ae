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

// Package telemetry provides opt-in error reporting via Sentry.
// Home directories are stripped from paths before anything is sent.
package telemetry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/config"
	"github.com/cannatrols/cc2-provisioner/pkg/helpers"
	"github.com/cannatrols/cc2-provisioner/pkg/models"
	"github.com/getsentry/sentry-go"
	sentryzerolog "github.com/getsentry/sentry-go/zerolog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	flushTimeout   = 2 * time.Second
	maxBreadcrumbs = 50
)

var (
	enabled      bool
	sentryWriter *sentryzerolog.Writer
	closeOnce    sync.Once

	homePathRe    = regexp.MustCompile(`(?i)/home/[^/]+/`)
	usersPathRe   = regexp.MustCompile(`(?i)/Users/[^/]+/`)
	windowsUserRe = regexp.MustCompile(`(?i)[a-zA-Z]:\\Users\\[^\\]+\\`)
)

// Init starts Sentry error reporting when the config enables it and names
// a DSN. Error and fatal log events are then forwarded alongside the
// normal log output.
func Init(cfg config.Telemetry, stationID, appVersion string) error {
	if !cfg.ErrorReporting || cfg.DSN == "" {
		log.Debug().Msg("error reporting disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Release:          helpers.AppName + "@" + appVersion,
		Environment:      runtime.GOOS,
		AttachStacktrace: true,
		SendDefaultPII:   false,
		ServerName:       "",
		MaxBreadcrumbs:   maxBreadcrumbs,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return sanitizeEvent(event)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: stationID})
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
	})

	sentryWriter, err = sentryzerolog.NewWithHub(sentry.CurrentHub(), sentryzerolog.Options{
		Levels:          []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		FlushTimeout:    flushTimeout,
		WithBreadcrumbs: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create sentry zerolog writer: %w", err)
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		helpers.LogWriter(),
		sentryWriter,
	)).With().Caller().Logger()

	enabled = true
	log.Info().Msg("error reporting enabled")
	return nil
}

// Close flushes pending events and shuts down Sentry.
// Safe to call multiple times.
func Close() {
	if !enabled {
		return
	}
	closeOnce.Do(func() {
		_ = sentryWriter.Close()
		sentry.Flush(flushTimeout)
	})
}

func Enabled() bool {
	return enabled
}

// AddBreadcrumb records a station notification so an error report shows
// the provisioning steps that led up to it.
func AddBreadcrumb(notif models.Notification) {
	if !enabled {
		return
	}
	sentry.AddBreadcrumb(breadcrumb(notif))
}

func breadcrumb(notif models.Notification) *sentry.Breadcrumb {
	crumb := &sentry.Breadcrumb{
		Type:     "default",
		Category: "station",
		Message:  notif.Method,
		Level:    sentry.LevelInfo,
	}
	if len(notif.Params) == 0 {
		return crumb
	}

	var data map[string]any
	if err := json.Unmarshal(notif.Params, &data); err != nil {
		log.Debug().Err(err).Str("method", notif.Method).Msg("breadcrumb params not an object")
		return crumb
	}
	crumb.Data = data
	if msg, ok := data["error"].(string); ok && msg != "" {
		crumb.Level = sentry.LevelWarning
	}
	return crumb
}

func sanitizeEvent(event *sentry.Event) *sentry.Event {
	// The SDK may fill in the hostname despite ServerName being empty.
	event.ServerName = ""

	for i := range event.Exception {
		event.Exception[i].Value = sanitizePath(event.Exception[i].Value)
		if event.Exception[i].Stacktrace == nil {
			continue
		}
		for j := range event.Exception[i].Stacktrace.Frames {
			frame := &event.Exception[i].Stacktrace.Frames[j]
			frame.AbsPath = sanitizePath(frame.AbsPath)
			frame.Filename = sanitizePath(frame.Filename)
		}
	}

	event.Message = sanitizePath(event.Message)

	sanitizeMap(event.Extra)
	for _, crumb := range event.Breadcrumbs {
		crumb.Message = sanitizePath(crumb.Message)
		sanitizeMap(crumb.Data)
	}

	return event
}

func sanitizeMap(m map[string]any) {
	for k, v := range m {
		if s, ok := v.(string); ok {
			m[k] = sanitizePath(s)
		}
	}
}

func sanitizePath(path string) string {
	if path == "" {
		return path
	}

	result := homePathRe.ReplaceAllString(path, "/home/<user>/")
	result = usersPathRe.ReplaceAllString(result, "/Users/<user>/")
	result = windowsUserRe.ReplaceAllString(result, "C:\\Users\\<user>\\")

	return result
}
