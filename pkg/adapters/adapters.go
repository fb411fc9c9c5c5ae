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

// Package adapters finds the USB-to-serial bridge that sits between the
// station and a CC2 controller board, and the serial ports it exposes.
package adapters

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/helpers/command"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial/enumerator"
)

const DefaultCommandTimeout = 3 * time.Second

var busIDPattern = regexp.MustCompile(`ID ([0-9a-fA-F]{4}):([0-9a-fA-F]{4})`)

// AdapterMatch describes one attached bridge chip. PortName is empty when
// the OS listing that found the chip does not say which node it owns.
type AdapterMatch struct {
	VendorID   string
	ProductID  string
	PortName   string
	Descriptor string
	// Topology is the physical USB port path, e.g. "1-2.3", when known.
	Topology string
}

// Result is the outcome of one discovery poll. Ports holds the candidate
// serial nodes an operator may pick from.
type Result struct {
	Adapters []AdapterMatch
	Ports    []string
}

// Connected reports whether at least one bridge chip is attached.
func (r Result) Connected() bool {
	return len(r.Adapters) > 0
}

// SamePorts reports whether two polls saw the same candidate ports.
func (r Result) SamePorts(other Result) bool {
	return slices.Equal(r.Ports, other.Ports)
}

type Options struct {
	VendorID       string
	ProductID      string
	ProductHint    string
	PortGlob       string
	CommandTimeout time.Duration
}

func (o Options) matches(vid, pid string) bool {
	return strings.EqualFold(strings.TrimSpace(vid), o.VendorID) &&
		strings.EqualFold(strings.TrimSpace(pid), o.ProductID)
}

type Discoverer struct {
	exec      command.Executor
	glob      func(pattern string) ([]string, error)
	listPorts func() ([]*enumerator.PortDetails, error)
	pnp       func(vid, pid string) []AdapterMatch
	topology  func(devicePath string) string
	goos      string
	opts      Options
}

func NewDiscoverer(exec command.Executor, opts Options) *Discoverer {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &Discoverer{
		exec:      exec,
		opts:      opts,
		goos:      runtime.GOOS,
		glob:      filepath.Glob,
		listPorts: enumerator.GetDetailedPortsList,
		pnp:       enumeratePnP,
		topology:  usbTopologyPath,
	}
}

// Discover runs one read-only enumeration pass. It never returns an error:
// a missing or slow OS tool yields an empty result for that step.
func (d *Discoverer) Discover(ctx context.Context) Result {
	var res Result
	switch d.goos {
	case "linux":
		res = d.discoverLinux(ctx)
	case "windows":
		res = d.discoverWindows(ctx)
	default:
		res = d.discoverEnumerated(ctx)
	}
	if res.Ports == nil {
		res.Ports = []string{}
	}
	return res
}

// Verify reports whether port belongs to a bridge with the configured
// vendor and product ids.
func (d *Discoverer) Verify(ctx context.Context, port string) bool {
	if d.goos == "linux" {
		props, ok := d.udevProperties(ctx, port)
		return ok && d.opts.matches(props["ID_VENDOR_ID"], props["ID_MODEL_ID"])
	}
	for _, m := range d.enumeratedMatches(ctx) {
		if strings.EqualFold(m.PortName, port) {
			return true
		}
	}
	return false
}

// DeviceInfo returns a human readable property dump for port, or an empty
// string when nothing is known about it.
func (d *Discoverer) DeviceInfo(ctx context.Context, port string) string {
	if d.goos == "linux" {
		out, err := d.output(ctx, "udevadm", "info", "--name", port, "--query", "property")
		if err != nil {
			return ""
		}
		return string(out)
	}

	ports, ok := runBounded(ctx, d.opts.CommandTimeout, d.listPorts)
	if !ok {
		return ""
	}
	for _, p := range ports {
		if strings.EqualFold(p.Name, port) {
			return fmt.Sprintf(
				"PORT=%s\nUSB=%t\nVID=%s\nPID=%s\nSERIAL=%s\nPRODUCT=%s\n",
				p.Name, p.IsUSB, p.VID, p.PID, p.SerialNumber, p.Product,
			)
		}
	}
	return ""
}

func (d *Discoverer) discoverLinux(ctx context.Context) Result {
	res := Result{Adapters: d.busAdapters(ctx)}

	nodes, err := d.glob(d.opts.PortGlob)
	if err != nil {
		log.Debug().Err(err).Str("glob", d.opts.PortGlob).Msg("serial node glob failed")
		return res
	}
	slices.Sort(nodes)

	verified := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if ctx.Err() != nil {
			break
		}
		props, ok := d.udevProperties(ctx, node)
		if ok && d.opts.matches(props["ID_VENDOR_ID"], props["ID_MODEL_ID"]) {
			verified = append(verified, node)
		}
	}

	if len(verified) == 0 {
		// udev metadata is not always populated, so an unverified node is
		// still a better answer than none.
		res.Ports = nodes
		return res
	}

	res.Ports = verified
	assignPorts(res.Adapters, verified, d.topology)
	return res
}

func (d *Discoverer) discoverWindows(ctx context.Context) Result {
	vid, pid := d.opts.VendorID, d.opts.ProductID
	adapters, ok := runBounded(ctx, d.opts.CommandTimeout, func() ([]AdapterMatch, error) {
		return d.pnp(vid, pid), nil
	})
	if !ok {
		adapters = nil
	}

	enumerated := d.enumeratedMatches(ctx)
	res := Result{Adapters: adapters, Ports: make([]string, 0, len(enumerated))}
	for _, m := range enumerated {
		res.Ports = append(res.Ports, m.PortName)
	}
	if len(res.Adapters) == 0 {
		res.Adapters = enumerated
	}
	return res
}

func (d *Discoverer) discoverEnumerated(ctx context.Context) Result {
	enumerated := d.enumeratedMatches(ctx)
	res := Result{Adapters: enumerated, Ports: make([]string, 0, len(enumerated))}
	for _, m := range enumerated {
		res.Ports = append(res.Ports, m.PortName)
	}
	return res
}

// busAdapters filters the USB bus listing for the bridge signature or its
// product name.
func (d *Discoverer) busAdapters(ctx context.Context) []AdapterMatch {
	out, err := d.output(ctx, "lsusb")
	if err != nil {
		return nil
	}
	return parseBusListing(string(out), d.opts)
}

func (d *Discoverer) udevProperties(ctx context.Context, node string) (map[string]string, bool) {
	out, err := d.output(ctx, "udevadm", "info", "--name", node, "--query", "property")
	if err != nil {
		return nil, false
	}
	return parseProperties(string(out)), true
}

func (d *Discoverer) enumeratedMatches(ctx context.Context) []AdapterMatch {
	ports, ok := runBounded(ctx, d.opts.CommandTimeout, d.listPorts)
	if !ok {
		return nil
	}

	matches := make([]AdapterMatch, 0, len(ports))
	for _, p := range ports {
		if p == nil || !p.IsUSB || !d.opts.matches(p.VID, p.PID) {
			continue
		}
		matches = append(matches, AdapterMatch{
			VendorID:   strings.ToLower(p.VID),
			ProductID:  strings.ToLower(p.PID),
			PortName:   p.Name,
			Descriptor: strings.TrimSpace(p.Product + " " + p.SerialNumber),
			Topology:   d.topology(p.Name),
		})
	}
	slices.SortFunc(matches, func(a, b AdapterMatch) int {
		return strings.Compare(a.PortName, b.PortName)
	})
	return matches
}

func (d *Discoverer) output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, d.opts.CommandTimeout)
	defer cancel()

	out, err := d.exec.Output(cctx, name, args...)
	if err != nil {
		log.Debug().Err(err).Str("cmd", name).Strs("args", args).Msg("enumeration command failed")
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// runBounded runs fn on its own goroutine so a wedged OS enumeration call
// cannot hold up the poll past timeout.
func runBounded[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, bool) {
	type result struct {
		err error
		val T
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val: val, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil {
			log.Debug().Err(r.err).Msg("port enumeration failed")
			return zero, false
		}
		return r.val, true
	case <-cctx.Done():
		log.Debug().Err(cctx.Err()).Msg("port enumeration timed out")
		return zero, false
	}
}

func parseBusListing(listing string, opts Options) []AdapterMatch {
	signature := strings.ToLower(opts.VendorID + ":" + opts.ProductID)

	var matches []AdapterMatch
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		hit := strings.Contains(strings.ToLower(line), signature)
		if !hit && opts.ProductHint != "" {
			hit = strings.Contains(line, opts.ProductHint)
		}
		if !hit {
			continue
		}

		m := AdapterMatch{
			VendorID:   strings.ToLower(opts.VendorID),
			ProductID:  strings.ToLower(opts.ProductID),
			Descriptor: line,
		}
		if ids := busIDPattern.FindStringSubmatch(line); ids != nil {
			m.VendorID = strings.ToLower(ids[1])
			m.ProductID = strings.ToLower(ids[2])
		}
		matches = append(matches, m)
	}
	return matches
}

// parseProperties reads udevadm property output, with or without the
// "E: " record prefix of the full info format.
func parseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "E:"))
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		props[key] = value
	}
	return props
}

func assignPorts(adapters []AdapterMatch, ports []string, topology func(string) string) {
	for i := range adapters {
		if i >= len(ports) {
			return
		}
		adapters[i].PortName = ports[i]
		adapters[i].Topology = topology(ports[i])
	}
}
