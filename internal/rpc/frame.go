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
	"encoding/binary"
	"fmt"

	fmfu "github.com/OpenModemProject/go-fmfu"
)

// Build assembles a complete frame for the given id and payload. The
// payload may be nil for commands that carry no data.
func Build(id byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("payload %d bytes exceeds frame limit %d: %w",
			len(payload), MaxPayloadLen, fmfu.ErrDataTooLarge)
	}

	frm := make([]byte, len(payload)+Overhead)
	frm[posSOP] = SOP
	frm[posID] = id
	binary.LittleEndian.PutUint16(frm[posLenL:], uint16(len(payload)))
	copy(frm[posData:], payload)

	crc := FrameChecksum(id, payload)
	binary.LittleEndian.PutUint16(frm[posData+len(payload):], crc)
	frm[len(frm)-1] = EOP
	return frm, nil
}

// Parse validates a complete frame and returns its id and payload. The
// returned payload aliases buf; callers that keep it must copy. Parse
// never panics on malformed input.
func Parse(buf []byte) (id byte, payload []byte, err error) {
	if len(buf) < MinFrameLen {
		return 0, nil, fmt.Errorf("frame %d bytes, minimum is %d: %w",
			len(buf), MinFrameLen, fmfu.ErrFrameTruncated)
	}
	if buf[posSOP] != SOP {
		return 0, nil, fmt.Errorf("start marker 0x%02X, want 0x%02X: %w",
			buf[posSOP], SOP, fmfu.ErrFrameCorrupted)
	}

	id = buf[posID]
	plen := int(binary.LittleEndian.Uint16(buf[posLenL:]))
	if plen > MaxPayloadLen {
		return 0, nil, fmt.Errorf("length field claims %d bytes: %w", plen, fmfu.ErrFrameCorrupted)
	}
	if len(buf) < plen+Overhead {
		return 0, nil, fmt.Errorf("frame %d bytes, need %d for declared payload: %w",
			len(buf), plen+Overhead, fmfu.ErrFrameTruncated)
	}

	payload = buf[posData : posData+plen]
	wantCRC := FrameChecksum(id, payload)
	gotCRC := binary.LittleEndian.Uint16(buf[posData+plen:])
	if gotCRC != wantCRC {
		return 0, nil, fmt.Errorf("frame CRC 0x%04X, want 0x%04X: %w",
			gotCRC, wantCRC, fmfu.ErrChecksumMismatch)
	}
	if buf[posData+plen+2] != EOP {
		return 0, nil, fmt.Errorf("end marker 0x%02X, want 0x%02X: %w",
			buf[posData+plen+2], EOP, fmfu.ErrFrameCorrupted)
	}

	return id, payload, nil
}

// FrameLen reports the total frame size implied by a header prefix of
// buf, or 0 when fewer than HeaderLen bytes are available yet.
func FrameLen(buf []byte) int {
	if len(buf) < HeaderLen {
		return 0
	}
	return int(binary.LittleEndian.Uint16(buf[posLenL:])) + Overhead
}
