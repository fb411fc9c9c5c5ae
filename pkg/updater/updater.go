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

// Package updater keeps the local firmware directory in step with the
// latest published release.
package updater

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cannatrols/cc2-provisioner/pkg/shared/httpclient"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultEndpoint     = "https://edlquuxypulyedwgweai.supabase.co/functions/v1/getFirmware"
	DefaultProbeURL     = "https://www.google.com"
	DefaultProbeTimeout = 5 * time.Second

	MarkerFile  = "version.json"
	archiveName = "firmware.tar.gz"

	maxManifestBytes = 1 << 20
	maxEntryBytes    = 256 << 20
)

type Status string

const (
	StatusNoInternet Status = "no-internet"
	StatusNoUpdate   Status = "no-update"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

var (
	ErrBadManifest = errors.New("invalid firmware manifest")
	ErrUnsafePath  = errors.New("archive entry escapes firmware directory")
	ErrEntryTooBig = errors.New("archive entry too large")
)

type Options struct {
	Endpoint     string
	ProbeURL     string
	ProbeTimeout time.Duration
}

// Checker fetches the latest release manifest and installs it when it is
// newer than the local marker.
type Checker struct {
	client *httpclient.Client
	fs     afero.Fs
	opts   Options
}

func NewChecker(client *httpclient.Client, fs afero.Fs, opts Options) *Checker {
	if client == nil {
		client = httpclient.NewClient()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.ProbeURL == "" {
		opts.ProbeURL = DefaultProbeURL
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	return &Checker{client: client, fs: fs, opts: opts}
}

// CurrentMarker reads the installed marker. A missing or unreadable
// marker yields the "none" sentinel.
func (c *Checker) CurrentMarker(dir string) Marker {
	none := Marker{Version: NoneVersion}

	data, err := afero.ReadFile(c.fs, filepath.Join(dir, MarkerFile))
	if errors.Is(err, os.ErrNotExist) {
		return none
	} else if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to read firmware marker")
		return none
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("malformed firmware marker")
		return none
	}
	if m.None() {
		return none
	}
	return m
}

// Latest fetches the manifest of the newest published release.
func (c *Checker) Latest(ctx context.Context) (Marker, error) {
	resp, err := c.client.Get(ctx, c.opts.Endpoint)
	if err != nil {
		return Marker{}, fmt.Errorf("failed to fetch firmware manifest: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("error closing response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return Marker{}, fmt.Errorf("%w: endpoint returned %d", ErrBadManifest, resp.StatusCode)
	}

	var m Marker
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&m); err != nil {
		return Marker{}, fmt.Errorf("%w: %w", ErrBadManifest, err)
	}
	if m.URL == "" || m.None() {
		return Marker{}, fmt.Errorf("%w: missing url or version", ErrBadManifest)
	}
	return m, nil
}

// CheckAndUpdate installs the latest release into dir when it is eligible.
// Without connectivity it reports StatusNoInternet and makes no remote
// query. The existing marker is only replaced after every file of the new
// release is in place.
func (c *Checker) CheckAndUpdate(ctx context.Context, dir string) (Status, error) {
	if !c.client.Probe(ctx, c.opts.ProbeURL, c.opts.ProbeTimeout) {
		log.Info().Msg("no internet connection, skipping firmware update check")
		return StatusNoInternet, nil
	}

	remote, err := c.Latest(ctx)
	if err != nil {
		return StatusFailed, err
	}

	local := c.CurrentMarker(dir)
	if !Eligible(remote, local) {
		log.Info().
			Str("local", local.Version).
			Str("remote", remote.Version).
			Msg("firmware is up to date")
		return StatusNoUpdate, nil
	}

	log.Info().
		Str("local", local.Version).
		Str("remote", remote.Version).
		Str("url", remote.URL).
		Msg("installing firmware update")
	if err := c.install(ctx, dir, remote); err != nil {
		return StatusFailed, fmt.Errorf("failed to install firmware %s: %w", remote.Version, err)
	}
	log.Info().Str("version", remote.Version).Msg("firmware update complete")
	return StatusSuccess, nil
}

func (c *Checker) install(ctx context.Context, dir string, remote Marker) error {
	if err := c.fs.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create firmware dir: %w", err)
	}

	archive := filepath.Join(dir, archiveName)
	defer func() {
		if err := c.fs.Remove(archive); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msg("failed to remove firmware archive")
		}
	}()
	err := c.client.DownloadFile(ctx, httpclient.DownloadFileArgs{
		Fs:         c.fs,
		URL:        remote.URL,
		OutputPath: archive,
		TempPath:   archive + ".part",
	})
	if err != nil {
		return err
	}

	staging := filepath.Join(dir, ".staging-"+uuid.NewString())
	defer func() {
		if err := c.fs.RemoveAll(staging); err != nil {
			log.Warn().Err(err).Str("path", staging).Msg("failed to remove staging dir")
		}
	}()
	files, err := extractTarGz(c.fs, archive, staging)
	if err != nil {
		return err
	}
	if err := promote(c.fs, staging, dir, files); err != nil {
		return err
	}
	return writeMarker(c.fs, dir, remote)
}

// extractTarGz unpacks archive under dest and returns the regular files it
// wrote, relative to dest. Entries that would land outside dest abort the
// extraction.
func extractTarGz(fs afero.Fs, archive, dest string) ([]string, error) {
	f, err := fs.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()

	var files []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}

		rel, ok := localPath(hdr.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		if rel == "" || rel == MarkerFile {
			continue
		}
		target := filepath.Join(dest, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(target, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", rel, err)
			}
		case tar.TypeReg:
			if hdr.Size > maxEntryBytes {
				return nil, fmt.Errorf("%w: %s is %d bytes", ErrEntryTooBig, rel, hdr.Size)
			}
			if err := writeEntry(fs, target, tr); err != nil {
				return nil, fmt.Errorf("failed to extract %s: %w", rel, err)
			}
			files = append(files, rel)
		default:
			log.Debug().Str("name", hdr.Name).Msg("skipping non-regular archive entry")
		}
	}
	return files, nil
}

func localPath(name string) (string, bool) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." {
		return "", true
	}
	if !filepath.IsLocal(clean) {
		return "", false
	}
	return clean, true
}

func writeEntry(fs afero.Fs, target string, r io.Reader) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}
	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// promote moves extracted files from staging into dir, replacing older
// copies.
func promote(fs afero.Fs, staging, dir string, files []string) error {
	for _, rel := range files {
		dst := filepath.Join(dir, rel)
		if err := fs.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return fmt.Errorf("failed to create parent dir: %w", err)
		}
		if err := fs.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to replace %s: %w", rel, err)
		}
		if err := fs.Rename(filepath.Join(staging, rel), dst); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", rel, err)
		}
	}
	return nil
}

// writeMarker replaces the marker by rename so readers never see a
// partial file.
func writeMarker(fs afero.Fs, dir string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode marker: %w", err)
	}
	final := filepath.Join(dir, MarkerFile)
	tmp := final + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	if err := fs.Rename(tmp, final); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to commit marker: %w", err)
	}
	return nil
}
