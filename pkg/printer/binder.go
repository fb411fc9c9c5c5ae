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
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/helpers/command"
	"github.com/rs/zerolog/log"
)

const (
	DefaultChannel     = "0"
	DefaultBindTimeout = 5 * time.Second
)

var (
	ErrInvalidAddress = errors.New("invalid bluetooth address")

	macPattern     = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
	bindingPattern = regexp.MustCompile(`^rfcomm(\d+):\s+([0-9A-Fa-f:]{17})`)
)

// Binding is the association of the local rfcomm channel with a printer's
// radio address.
type Binding struct {
	Address string
	Channel string
	Bound   bool
}

// Binder manages the single rfcomm channel the printer is reached on.
type Binder struct {
	exec    command.Executor
	channel string
	timeout time.Duration
	useSudo bool
}

func NewBinder(exec command.Executor, channel string, useSudo bool) *Binder {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Binder{
		exec:    exec,
		channel: channel,
		useSudo: useSudo,
		timeout: DefaultBindTimeout,
	}
}

func ValidAddress(address string) bool {
	return macPattern.MatchString(address)
}

// Current reports what the channel is bound to right now.
func (b *Binder) Current(ctx context.Context) (Binding, error) {
	out, err := b.rfcomm(ctx)
	if err != nil {
		return Binding{Channel: b.channel}, err
	}
	return parseBindings(out, b.channel), nil
}

// Bind points the channel at address. Binding to the address already bound
// is a no-op; a different address is released first. Every failure,
// including a missing rfcomm tool, is reported as false.
func (b *Binder) Bind(ctx context.Context, address string) bool {
	if !ValidAddress(address) {
		log.Warn().Str("address", address).Msg("refusing to bind invalid address")
		return false
	}

	current, err := b.Current(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cannot query rfcomm bindings")
		return false
	}

	if current.Bound {
		if strings.EqualFold(current.Address, address) {
			log.Debug().Str("address", address).Msg("rfcomm channel already bound")
			return true
		}
		log.Info().Str("old", current.Address).Str("new", address).Msg("rebinding rfcomm channel")
		if _, err := b.rfcomm(ctx, "release", b.channel); err != nil {
			log.Warn().Err(err).Msg("failed to release rfcomm channel")
			return false
		}
	}

	if _, err := b.rfcomm(ctx, "bind", b.channel, address); err != nil {
		log.Warn().Err(err).Str("address", address).Msg("failed to bind rfcomm channel")
		return false
	}
	log.Info().Str("address", address).Str("channel", b.channel).Msg("rfcomm channel bound")
	return true
}

// Release frees the channel. Releasing an unbound channel succeeds.
func (b *Binder) Release(ctx context.Context) bool {
	current, err := b.Current(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cannot query rfcomm bindings")
		return false
	}
	if !current.Bound {
		return true
	}
	if _, err := b.rfcomm(ctx, "release", b.channel); err != nil {
		log.Warn().Err(err).Msg("failed to release rfcomm channel")
		return false
	}
	log.Info().Str("address", current.Address).Msg("rfcomm channel released")
	return true
}

func (b *Binder) rfcomm(ctx context.Context, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	name := "rfcomm"
	if b.useSudo {
		// -n makes sudo fail instead of waiting for a password.
		args = append([]string{"-n", "rfcomm"}, args...)
		name = "sudo"
	}

	out, err := b.exec.Capture(cctx, name, args...)
	if err != nil {
		diag := strings.TrimSpace(out.Diagnostic())
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, diag)
	}
	return string(out.Stdout), nil
}

func parseBindings(listing, channel string) Binding {
	b := Binding{Channel: channel}
	for _, line := range strings.Split(listing, "\n") {
		m := bindingPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || m[1] != channel {
			continue
		}
		b.Address = strings.ToUpper(m[2])
		b.Bound = true
		break
	}
	return b
}
