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

// Modem RPC command identifiers
const (
	cmdInit                 = 0x01
	cmdWriteBootloaderChunk = 0x02
	cmdWriteChunk           = 0x03
	cmdTransferStart        = 0x04
	cmdTransferEnd          = 0x05
	cmdGetMemoryHash        = 0x06
	cmdGetUUID              = 0x07
	cmdEnd                  = 0x08
)

// Modem RPC error response identifiers
const (
	respFault      = 0xE0 // unsolicited fault event on the IPC channel
	respCmdError   = 0xE1 // command reached the modem but failed to execute
	respUnknownCmd = 0xE2 // command id not recognized by the bootloader
)

// Frame geometry, kept in step with the wire codec
const (
	frameOverhead = 7 // SOP + id + len16 + crc16 + EOP
	chunkAddrLen  = 4 // little-endian target address prefix of an addressed chunk
)

// Reason codes carried in the first payload byte of an error response
const (
	ReasonUnspecified    byte = 0x00 // no reason reported
	ReasonNotInDFUMode   byte = 0x01 // modem not in DFU mode
	ReasonNoTransfer     byte = 0x02 // no transfer in progress
	ReasonTransferActive byte = 0x03 // transfer already in progress
	ReasonAddressRange   byte = 0x04 // target address outside writable range
	ReasonLengthInvalid  byte = 0x05 // data length invalid for command
	ReasonFlashWrite     byte = 0x06 // flash programming failed
	ReasonFlashErase     byte = 0x07 // flash erase failed
	ReasonDigestFailed   byte = 0x08 // digest calculation failed
	ReasonVerifyFailed   byte = 0x09 // bootloader verification failed
	ReasonBufferOverflow byte = 0x0A // payload exceeds modem RPC buffer
)
