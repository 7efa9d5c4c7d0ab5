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

package fmfu

import "encoding/hex"

// Wire sizes fixed by the modem protocol
const (
	// DigestLen is the size of modem digests in bytes
	DigestLen = 32
	// UUIDLen is the size of the modem UUID in bytes
	UUIDLen = 36
)

// Digest is a 256-bit hash in modem-native byte order. The bytes are kept
// exactly as the modem produced them, never endian-converted.
type Digest [DigestLen]byte

// String returns the digest as lowercase hex
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// UUID holds the modem identity bytes exactly as returned. The modem
// reports it as UUID text, so String is the natural representation.
type UUID [UUIDLen]byte

func (u UUID) String() string {
	return string(u[:])
}

// MemoryChunk is one contiguous piece of a larger firmware image.
// TargetAddress is ignored for bootloader chunks, which the modem stores
// in arrival order.
type MemoryChunk struct {
	Data          []byte
	TargetAddress uint32
}

// InitInfo is what the modem reports when it enters DFU mode.
type InitInfo struct {
	// RootKeyDigest identifies the root key set baked into the modem.
	// Firmware packages are signed against one of these keys.
	RootKeyDigest Digest
	// RPCBufferLen is the modem-advertised RPC buffer size in bytes. Every
	// command frame, chunk payload included, must fit in it.
	RPCBufferLen uint32
}
