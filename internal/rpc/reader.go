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
	"fmt"
	"io"

	fmfu "github.com/OpenModemProject/go-fmfu"
)

// Reader extracts frames from a byte stream. It scans for the SOP
// marker, so stale bytes left in a serial buffer before the frame are
// skipped rather than corrupting the parse.
//
// The underlying reader is expected to return (0, nil) when no data is
// available within its own read timeout, which is how go.bug.st/serial
// ports behave. Reader converts a run of empty reads into a timeout
// error instead of spinning forever.
type Reader struct {
	src io.Reader
	buf []byte
	n   int
	// MaxEmptyReads is the number of consecutive zero-byte reads
	// tolerated before ReadFrame gives up with a timeout.
	MaxEmptyReads int
}

// DefaultMaxEmptyReads paired with a 50 ms port timeout gives a frame
// budget of a few seconds, enough for flash writes on the modem side.
const DefaultMaxEmptyReads = 100

// NewReader creates a frame reader over src.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:           src,
		buf:           make([]byte, MaxFrameLen),
		MaxEmptyReads: DefaultMaxEmptyReads,
	}
}

// ReadFrame reads one complete frame and returns its id and a copy of
// its payload.
func (r *Reader) ReadFrame() (id byte, payload []byte, err error) {
	if err := r.sync(); err != nil {
		return 0, nil, err
	}
	if err := r.fill(HeaderLen); err != nil {
		return 0, nil, err
	}

	total := FrameLen(r.buf[:r.n])
	if total > MaxFrameLen {
		r.n = 0
		return 0, nil, fmt.Errorf("length field claims %d-byte frame: %w", total, fmfu.ErrFrameCorrupted)
	}
	if err := r.fill(total); err != nil {
		return 0, nil, err
	}

	id, body, err := Parse(r.buf[:total])
	r.n = 0
	if err != nil {
		return 0, nil, err
	}
	out := make([]byte, len(body))
	copy(out, body)
	return id, out, nil
}

// sync discards bytes until an SOP marker sits at the start of the
// buffer.
func (r *Reader) sync() error {
	empty := 0
	var one [1]byte
	for {
		if r.n > 0 && r.buf[0] == SOP {
			return nil
		}
		r.n = 0

		n, err := r.src.Read(one[:])
		if err != nil {
			return fmt.Errorf("frame sync read: %w", err)
		}
		if n == 0 {
			empty++
			if empty >= r.MaxEmptyReads {
				return fmt.Errorf("no frame start within read budget: %w", fmfu.ErrTransportTimeout)
			}
			continue
		}
		empty = 0
		if one[0] == SOP {
			r.buf[0] = SOP
			r.n = 1
			return nil
		}
		// Skip noise between frames.
	}
}

// fill reads until at least want bytes are buffered.
func (r *Reader) fill(want int) error {
	empty := 0
	for r.n < want {
		n, err := r.src.Read(r.buf[r.n:want])
		if err != nil {
			return fmt.Errorf("frame body read: %w", err)
		}
		if n == 0 {
			empty++
			if empty >= r.MaxEmptyReads {
				return fmt.Errorf("frame stalled at %d of %d bytes: %w", r.n, want, fmfu.ErrFrameTruncated)
			}
			continue
		}
		empty = 0
		r.n += n
	}
	return nil
}
