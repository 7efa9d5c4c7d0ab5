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

// Checksum computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no
// reflection, no final XOR) over a data buffer. The modem computes the
// same CRC over ID + LEN + payload of each frame.
func Checksum(data []byte) uint16 {
	return checksumUpdate(0xFFFF, data)
}

// FrameChecksum computes the CRC carried by a frame with the given
// command id and payload, covering ID, the little-endian length and the
// payload bytes.
func FrameChecksum(id byte, payload []byte) uint16 {
	header := [3]byte{id, byte(len(payload)), byte(len(payload) >> 8)}
	return checksumUpdate(checksumUpdate(0xFFFF, header[:]), payload)
}

// checksumUpdate folds data into a running CRC.
func checksumUpdate(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
