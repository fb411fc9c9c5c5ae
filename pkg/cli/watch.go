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
	"context"
	"fmt"
	"io"

	"github.com/cannatrols/cc2-provisioner/internal/telemetry"
	"github.com/cannatrols/cc2-provisioner/pkg/models"
	"github.com/cannatrols/cc2-provisioner/pkg/service"
	"github.com/cannatrols/cc2-provisioner/pkg/service/publishers"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const eventBuffer = 32

// Watch runs the station until ctx is done, echoing its events to out and
// forwarding them to MQTT when a broker is configured.
func Watch(ctx context.Context, app *App, out io.Writer) error {
	events, eventsID := app.Broker.Subscribe(eventBuffer)
	defer app.Broker.Unsubscribe(eventsID)

	if pubCfg := app.Config.Publisher(); pubCfg.MQTTBroker != "" {
		feed, feedID := app.Broker.Subscribe(eventBuffer)
		defer app.Broker.Unsubscribe(feedID)

		pub := publishers.NewMQTTPublisher(pubCfg.MQTTBroker, pubCfg.Topic, nil)
		if err := pub.Start(feed); err != nil {
			log.Warn().Err(err).Str("broker", pubCfg.MQTTBroker).Msg("mqtt publisher not started")
		} else {
			defer pub.Stop()
		}
	}

	var crumbs <-chan models.Notification
	if telemetry.Enabled() {
		var crumbsID int
		crumbs, crumbsID = app.Broker.Subscribe(eventBuffer)
		defer app.Broker.Unsubscribe(crumbsID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Station.Run(gctx)
	})
	g.Go(func() error {
		echoEvents(gctx, events, out)
		return nil
	})
	g.Go(func() error {
		watchSnapshots(gctx, app.Station.Snapshots())
		return nil
	})
	if crumbs != nil {
		g.Go(func() error {
			forEach(gctx, crumbs, telemetry.AddBreadcrumb)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("station stopped: %w", err)
	}
	return nil
}

func echoEvents(ctx context.Context, events <-chan models.Notification, out io.Writer) {
	forEach(ctx, events, func(n models.Notification) {
		_, _ = fmt.Fprintf(out, "%s %s\n", n.Method, n.Params)
	})
}

func forEach(ctx context.Context, events <-chan models.Notification, fn func(models.Notification)) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			fn(n)
		}
	}
}

func watchSnapshots(ctx context.Context, snaps <-chan service.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snaps:
			log.Debug().
				Int("adapters", len(snap.Adapters.Adapters)).
				Strs("ports", snap.Adapters.Ports).
				Int("identities", len(snap.Identities)).
				Msg("station snapshot")
		}
	}
}
