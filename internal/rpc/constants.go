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

// Package rpc implements the modem RPC frame codec shared by all
// transports.
//
// Every command and response travels in one frame:
//
//	[SOP][ID][LEN_L][LEN_H][payload...][CRC_L][CRC_H][EOP]
//
// LEN is the little-endian payload length. CRC is CRC-16/CCITT-FALSE over
// ID, LEN and payload. A frame must fit in the RPC buffer the modem
// advertises at init time, so the codec itself only enforces an upper
// sanity bound.
package rpc

// Frame marker bytes
const (
	SOP = 0x7E // start of packet
	EOP = 0x7D // end of packet
)

// Frame geometry
const (
	// Overhead is the number of non-payload bytes in a frame:
	// SOP + ID + LEN(2) + CRC(2) + EOP.
	Overhead = 7
	// HeaderLen is the number of bytes before the payload:
	// SOP + ID + LEN(2).
	HeaderLen = 4
	// TrailerLen is the number of bytes after the payload: CRC(2) + EOP.
	TrailerLen = 3
	// MinFrameLen is the size of a frame with an empty payload.
	MinFrameLen = Overhead
	// MaxPayloadLen bounds the payload a parser will accept. The modem
	// RPC buffer is the real limit; this is a sanity cap against a
	// corrupted length field claiming a 64 KiB frame.
	MaxPayloadLen = 8192
	// MaxFrameLen is the largest frame the codec will build or parse.
	MaxFrameLen = MaxPayloadLen + Overhead
)

// Byte offsets within a frame
const (
	posSOP  = 0
	posID   = 1
	posLenL = 2
	posLenH = 3
	posData = 4
)
