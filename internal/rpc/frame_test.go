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

package rpc

import (
	"bytes"
	"errors"
	"testing"

	fmfu "github.com/OpenModemProject/go-fmfu"
)

func TestBuildParseRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		id      byte
		payload []byte
	}{
		{name: "empty payload", id: 0x04, payload: nil},
		{name: "small payload", id: 0x03, payload: []byte{0x00, 0x10, 0x00, 0x00, 0xAA, 0xBB}},
		{name: "digest sized payload", id: 0x06, payload: bytes.Repeat([]byte{0x5A}, 32)},
		{name: "large payload", id: 0x02, payload: bytes.Repeat([]byte{0xFF}, 2048)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			frm, err := Build(tt.id, tt.payload)
			if err != nil {
				t.Fatalf("Build() error: %v", err)
			}
			if len(frm) != len(tt.payload)+Overhead {
				t.Fatalf("frame length = %d, want %d", len(frm), len(tt.payload)+Overhead)
			}
			if frm[0] != SOP || frm[len(frm)-1] != EOP {
				t.Fatalf("frame markers = 0x%02X...0x%02X", frm[0], frm[len(frm)-1])
			}

			id, payload, err := Parse(frm)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if id != tt.id {
				t.Errorf("Parse() id = 0x%02X, want 0x%02X", id, tt.id)
			}
			if !bytes.Equal(payload, tt.payload) {
				t.Errorf("Parse() payload = % X, want % X", payload, tt.payload)
			}
		})
	}
}

func TestBuildRejectsOversizedPayload(t *testing.T) {
	t.Parallel()
	_, err := Build(0x02, make([]byte, MaxPayloadLen+1))
	if !errors.Is(err, fmfu.ErrDataTooLarge) {
		t.Fatalf("Build() error = %v, want ErrDataTooLarge", err)
	}
}

func TestParseMalformedFrames(t *testing.T) {
	t.Parallel()

	valid, err := Build(0x07, []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "too short",
			mutate:  func(f []byte) []byte { return f[:MinFrameLen-1] },
			wantErr: fmfu.ErrFrameTruncated,
		},
		{
			name: "bad start marker",
			mutate: func(f []byte) []byte {
				f[0] = 0x00
				return f
			},
			wantErr: fmfu.ErrFrameCorrupted,
		},
		{
			name: "truncated payload",
			mutate: func(f []byte) []byte {
				return f[:len(f)-2]
			},
			wantErr: fmfu.ErrFrameTruncated,
		},
		{
			name: "flipped payload byte",
			mutate: func(f []byte) []byte {
				f[posData] ^= 0xFF
				return f
			},
			wantErr: fmfu.ErrChecksumMismatch,
		},
		{
			name: "flipped crc byte",
			mutate: func(f []byte) []byte {
				f[len(f)-2] ^= 0x01
				return f
			},
			wantErr: fmfu.ErrChecksumMismatch,
		},
		{
			name: "length field too large",
			mutate: func(f []byte) []byte {
				f[posLenL] = 0xFF
				f[posLenH] = 0xFF
				return f
			},
			wantErr: fmfu.ErrFrameCorrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			frm := make([]byte, len(valid))
			copy(frm, valid)
			_, _, err := Parse(tt.mutate(frm))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseBadEndMarker(t *testing.T) {
	t.Parallel()
	frm, err := Build(0x05, nil)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	frm[len(frm)-1] = 0x00
	if _, _, err := Parse(frm); !errors.Is(err, fmfu.ErrFrameCorrupted) {
		t.Fatalf("Parse() error = %v, want ErrFrameCorrupted", err)
	}
}

func TestFrameLen(t *testing.T) {
	t.Parallel()
	frm, err := Build(0x01, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got := FrameLen(frm); got != len(frm) {
		t.Errorf("FrameLen() = %d, want %d", got, len(frm))
	}
	if got := FrameLen(frm[:2]); got != 0 {
		t.Errorf("FrameLen(short prefix) = %d, want 0", got)
	}
}
