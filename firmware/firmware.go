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

// Package firmware loads modem update packages.
//
// A package is a zip archive with a manifest.json describing its
// segments: one bootloader image plus one or more addressed firmware
// images. Segment payloads ship either as raw binaries or as Intel HEX
// files, which are flattened to contiguous images on load.
package firmware

import (
	"crypto/sha256"
	"errors"
	"fmt"

	fmfu "github.com/OpenModemProject/go-fmfu"
)

// Errors reported while loading packages.
var (
	// ErrInvalidManifest indicates a missing or malformed manifest.json
	ErrInvalidManifest = errors.New("invalid package manifest")
	// ErrNoBootloader indicates a manifest without a bootloader segment
	ErrNoBootloader = errors.New("package has no bootloader segment")
	// ErrEmptySegment indicates a segment whose payload is empty
	ErrEmptySegment = errors.New("segment payload is empty")
)

// Package is a loaded modem update package.
type Package struct {
	// Version is the firmware version string from the manifest.
	Version string
	// Segments holds the bootloader first, then the addressed images
	// in manifest order.
	Segments []Segment
}

// Bootloader returns the bootloader segment.
func (p *Package) Bootloader() *Segment {
	return &p.Segments[0]
}

// FirmwareSegments returns the addressed segments following the
// bootloader.
func (p *Package) FirmwareSegments() []Segment {
	return p.Segments[1:]
}

// TotalBytes sums the payload sizes of all segments.
func (p *Package) TotalBytes() int {
	total := 0
	for i := range p.Segments {
		total += len(p.Segments[i].Data)
	}
	return total
}

// Segment is one transferable image inside a package.
type Segment struct {
	// Name is the archive entry the payload came from.
	Name string
	// Data is the flattened image.
	Data []byte
	// ExpectedDigest, when present, is the digest the modem must
	// report for this segment's address window after transfer.
	ExpectedDigest *fmfu.Digest
	// Address is the flash base address. Zero for the bootloader,
	// which is streamed in arrival order rather than addressed.
	Address uint32
	// Bootloader marks the segment consumed by the modem DFU loader
	// itself.
	Bootloader bool
}

// EndAddress returns the address one past the segment's last byte.
func (s *Segment) EndAddress() uint32 {
	return s.Address + uint32(len(s.Data))
}

// Digest returns the SHA-256 digest of the segment payload.
func (s *Segment) Digest() fmfu.Digest {
	return fmfu.Digest(sha256.Sum256(s.Data))
}

// Chunks splits the segment into transfer chunks of at most maxData
// payload bytes. Addressed segments get ascending target addresses;
// bootloader chunks carry no address and must be written in order.
func (s *Segment) Chunks(maxData int) ([]fmfu.MemoryChunk, error) {
	if maxData <= 0 {
		return nil, fmt.Errorf("chunk size %d: %w", maxData, fmfu.ErrInvalidArgument)
	}
	if len(s.Data) == 0 {
		return nil, ErrEmptySegment
	}

	chunks := make([]fmfu.MemoryChunk, 0, (len(s.Data)+maxData-1)/maxData)
	for off := 0; off < len(s.Data); off += maxData {
		end := min(off+maxData, len(s.Data))
		chunk := fmfu.MemoryChunk{Data: s.Data[off:end]}
		if !s.Bootloader {
			chunk.TargetAddress = s.Address + uint32(off)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// validate checks the package invariants after loading.
func (p *Package) validate() error {
	if len(p.Segments) == 0 || !p.Segments[0].Bootloader {
		return ErrNoBootloader
	}
	for i := range p.Segments {
		seg := &p.Segments[i]
		if len(seg.Data) == 0 {
			return fmt.Errorf("segment %q: %w", seg.Name, ErrEmptySegment)
		}
		if i > 0 && seg.Bootloader {
			return fmt.Errorf("segment %q: %w", seg.Name, errors.New("multiple bootloader segments"))
		}
		if !seg.Bootloader && seg.EndAddress() < seg.Address {
			return fmt.Errorf("segment %q wraps the address space: %w", seg.Name, fmfu.ErrInvalidArgument)
		}
	}
	return nil
}
