// Copyright 2026 The OpenModem Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package firmware

import (
	"archive/zip"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	fmfu "github.com/OpenModemProject/go-fmfu"
)

const manifestFileName = "manifest.json"

// manifestFile mirrors the manifest.json layout.
type manifestFile struct {
	Manifest manifest `json:"manifest"`
}

type manifest struct {
	Version  string            `json:"version"`
	Segments []manifestSegment `json:"segments"`
}

type manifestSegment struct {
	// File is the archive entry holding the payload.
	File string `json:"file"`
	// Type is "bootloader" or "firmware".
	Type string `json:"type"`
	// Format is "bin" (default) or "ihex".
	Format string `json:"format,omitempty"`
	// Digest is the expected SHA-256 of the payload, hex encoded.
	Digest string `json:"digest,omitempty"`
	// Address is the flash base for bin firmware segments. Intel HEX
	// segments carry their own addresses.
	Address uint32 `json:"address,omitempty"`
}

const (
	segmentTypeBootloader = "bootloader"
	segmentTypeFirmware   = "firmware"

	formatBin  = "bin"
	formatIhex = "ihex"
)

// LoadPackage opens and parses an update package from disk.
func LoadPackage(path string) (*Package, error) {
	f, err := os.Open(path) // #nosec G304 -- caller-supplied package path
	if err != nil {
		return nil, fmt.Errorf("open package %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat package %s: %w", path, err)
	}
	return Parse(f, info.Size())
}

// Parse reads an update package from an in-memory or mapped archive.
func Parse(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read package archive: %w", err)
	}

	m, err := readManifest(zr)
	if err != nil {
		return nil, err
	}

	pkg := &Package{Version: m.Version}
	for i := range m.Segments {
		seg, err := loadSegment(zr, &m.Segments[i])
		if err != nil {
			return nil, err
		}
		pkg.Segments = append(pkg.Segments, *seg)
	}

	if err := pkg.validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

// readManifest locates and decodes manifest.json.
func readManifest(zr *zip.Reader) (*manifest, error) {
	f, err := zr.Open(manifestFileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s missing", ErrInvalidManifest, manifestFileName)
	}
	defer func() { _ = f.Close() }()

	var contents manifestFile
	if err := json.NewDecoder(f).Decode(&contents); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	m := &contents.Manifest
	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrInvalidManifest)
	}
	return m, nil
}

// loadSegment reads and flattens one manifest segment.
func loadSegment(zr *zip.Reader, ms *manifestSegment) (*Segment, error) {
	raw, err := fs.ReadFile(zr, ms.File)
	if err != nil {
		return nil, fmt.Errorf("%w: segment file %q: %w", ErrInvalidManifest, ms.File, err)
	}

	seg := &Segment{
		Name:    ms.File,
		Address: ms.Address,
	}

	switch strings.ToLower(ms.Type) {
	case segmentTypeBootloader:
		seg.Bootloader = true
		seg.Address = 0
	case segmentTypeFirmware, "":
	default:
		return nil, fmt.Errorf("%w: segment %q has unknown type %q", ErrInvalidManifest, ms.File, ms.Type)
	}

	switch strings.ToLower(ms.Format) {
	case formatBin, "":
		seg.Data = raw
	case formatIhex:
		data, base, err := flattenIntelHex(raw)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", ms.File, err)
		}
		seg.Data = data
		if !seg.Bootloader && ms.Address == 0 {
			seg.Address = base
		}
	default:
		return nil, fmt.Errorf("%w: segment %q has unknown format %q", ErrInvalidManifest, ms.File, ms.Format)
	}

	if ms.Digest != "" {
		digest, err := ParseDigest(ms.Digest)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q digest: %w", ErrInvalidManifest, ms.File, err)
		}
		seg.ExpectedDigest = &digest
	}

	return seg, nil
}

// ParseDigest decodes a hex encoded SHA-256 digest string, as found
// in manifests and .sha256 sidecar files.
func ParseDigest(s string) (fmfu.Digest, error) {
	var d fmfu.Digest
	s = strings.TrimSpace(s)
	// Sidecar files may carry "<hex>  <filename>".
	if idx := strings.IndexAny(s, " \t"); idx > 0 {
		s = s[:idx]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("digest not hex encoded: %w", fmfu.ErrInvalidFormat)
	}
	if len(raw) != fmfu.DigestLen {
		return d, fmt.Errorf("digest length %d, want %d bytes: %w", len(raw), fmfu.DigestLen, fmfu.ErrInvalidFormat)
	}
	copy(d[:], raw)
	return d, nil
}
