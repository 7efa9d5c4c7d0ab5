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

// Package testing provides test utilities including a wire-level modem
// simulator.
//
// The VirtualModem type implements io.ReadWriter and simulates the modem
// DFU bootloader at the RPC frame level: it parses command frames written
// to it, walks the same lifecycle the real modem walks (normal operation,
// waiting for bootloader, ready for IPC commands) and queues response
// frames for reading. A sparse flash model and real SHA-256 digests make
// end-to-end verification tests meaningful.
//
// The frame codec and command ids are mirrored here instead of imported
// so that root-package tests can use this package without an import
// cycle.
package testing

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/OpenModemProject/go-fmfu/internal/syncutil"
)

// Frame markers and geometry, mirrored from internal/rpc.
const (
	frameSOP      = 0x7E
	frameEOP      = 0x7D
	frameOverhead = 7
)

// Modem RPC command ids, mirrored from the root package.
const (
	CmdInit                 = 0x01
	CmdWriteBootloaderChunk = 0x02
	CmdWriteChunk           = 0x03
	CmdTransferStart        = 0x04
	CmdTransferEnd          = 0x05
	CmdGetMemoryHash        = 0x06
	CmdGetUUID              = 0x07
	CmdEnd                  = 0x08
)

// Error response ids, mirrored from the root package.
const (
	RespFault      = 0xE0
	RespCmdError   = 0xE1
	RespUnknownCmd = 0xE2
)

// Reason codes carried in error responses, mirrored from the root package.
const (
	ReasonUnspecified    = 0x00
	ReasonNotInDFUMode   = 0x01
	ReasonNoTransfer     = 0x02
	ReasonTransferActive = 0x03
	ReasonAddressRange   = 0x04
	ReasonLengthInvalid  = 0x05
	ReasonFlashWrite     = 0x06
	ReasonBufferOverflow = 0x0A
)

// Wire sizes fixed by the protocol.
const (
	digestLen = 32
	uuidLen   = 36
)

// ModemPhase tracks the simulated modem lifecycle.
type ModemPhase int

const (
	// PhaseNormal - modem running its normal firmware, not in DFU mode
	PhaseNormal ModemPhase = iota
	// PhaseWaitBootloader - DFU mode entered, bootloader upload expected
	PhaseWaitBootloader
	// PhaseReady - bootloader running, addressed commands accepted
	PhaseReady
)

// DefaultRPCBufferLen is the RPC buffer size the simulator advertises
// unless configured otherwise. Real modems report values in this range.
const DefaultRPCBufferLen = 2048

// DefaultUUID is the identity the simulator reports, shaped like the
// UUID text a real modem returns.
const DefaultUUID = "f1df607e-63f1-4fa8-8677-dde48ed6b6fb"

// VirtualModem simulates the modem DFU bootloader at the wire protocol
// level. It implements io.ReadWriter to plug directly into transport
// layer tests.
//
// The simulator enforces the protocol the client relies on:
//   - frame format validation (markers, length, CRC)
//   - the DFU lifecycle (init, bootloader hand-off, end)
//   - transfer bracketing (chunks only inside start/end)
//   - real SHA-256 digests over the flash model
type VirtualModem struct {
	flash          map[uint32]byte
	failNext       map[byte]byte
	rxBuffer       bytes.Buffer
	txBuffer       bytes.Buffer
	bootloader     bytes.Buffer
	mu             syncutil.Mutex
	phase          ModemPhase
	rpcBufferLen   uint32
	rootKeyDigest  [digestLen]byte
	uuid           [uuidLen]byte
	transferActive bool

	// Fault injection
	corruptNextResponse bool
	dropNextResponse    bool
	faultNextResponse   bool
}

// NewVirtualModem creates a wire-level modem simulator in normal
// operation, waiting for an init command.
func NewVirtualModem() *VirtualModem {
	v := &VirtualModem{
		phase:        PhaseNormal,
		rpcBufferLen: DefaultRPCBufferLen,
		flash:        make(map[uint32]byte),
		failNext:     make(map[byte]byte),
	}
	copy(v.uuid[:], DefaultUUID)
	for i := range v.rootKeyDigest {
		v.rootKeyDigest[i] = byte(i) // recognizable non-zero pattern
	}
	return v
}

// Write implements io.Writer - receives frames from the host. Complete
// command frames are processed immediately and their responses queued.
func (v *VirtualModem) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rxBuffer.Write(data)
	v.processReceivedData()
	return len(data), nil
}

// Read implements io.Reader - returns queued response bytes to the host.
func (v *VirtualModem) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil // No data available
	}
	n, err := v.txBuffer.Read(buf)
	if err != nil {
		return n, fmt.Errorf("read from tx buffer: %w", err)
	}
	return n, nil
}

// Phase returns the simulated modem lifecycle phase.
func (v *VirtualModem) Phase() ModemPhase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// SetRPCBufferLen overrides the advertised RPC buffer length for the
// next init response.
func (v *VirtualModem) SetRPCBufferLen(n uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rpcBufferLen = n
}

// SetUUID overrides the identity the simulator reports. Input longer
// than 36 bytes is truncated, shorter input is zero padded.
func (v *VirtualModem) SetUUID(s string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.uuid = [uuidLen]byte{}
	copy(v.uuid[:], s)
}

// SetRootKeyDigest overrides the digest reported by init.
func (v *VirtualModem) SetRootKeyDigest(d [digestLen]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rootKeyDigest = d
}

// FailNextCommand makes the next occurrence of cmd answer with a
// command-error response carrying the given reason.
func (v *VirtualModem) FailNextCommand(cmd, reason byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext[cmd] = reason
}

// DropNextResponse swallows the next response, so the host sees a
// timeout.
func (v *VirtualModem) DropNextResponse() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropNextResponse = true
}

// CorruptNextResponse flips a CRC byte in the next response frame.
func (v *VirtualModem) CorruptNextResponse() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptNextResponse = true
}

// RaiseFaultOnNextCommand makes the next command answer with an
// unsolicited fault event, as the IPC fault channel would.
func (v *VirtualModem) RaiseFaultOnNextCommand() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faultNextResponse = true
}

// BootloaderImage returns a copy of the bootloader bytes received so
// far, in arrival order.
func (v *VirtualModem) BootloaderImage() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]byte, v.bootloader.Len())
	copy(out, v.bootloader.Bytes())
	return out
}

// FlashRange returns the flash model content over [start, end), with
// unwritten bytes reading as erased flash (0xFF).
func (v *VirtualModem) FlashRange(start, end uint32) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flashRangeLocked(start, end)
}

func (v *VirtualModem) flashRangeLocked(start, end uint32) []byte {
	out := make([]byte, end-start)
	for i := range out {
		b, ok := v.flash[start+uint32(i)]
		if !ok {
			b = 0xFF
		}
		out[i] = b
	}
	return out
}

// processReceivedData parses complete frames from the receive buffer
// and dispatches them. Garbage before a start marker is discarded.
func (v *VirtualModem) processReceivedData() {
	for {
		raw := v.rxBuffer.Bytes()

		// Drop noise ahead of the start marker.
		start := bytes.IndexByte(raw, frameSOP)
		if start < 0 {
			v.rxBuffer.Reset()
			return
		}
		if start > 0 {
			v.rxBuffer.Next(start)
			raw = v.rxBuffer.Bytes()
		}

		if len(raw) < 4 {
			return // header incomplete
		}
		total := int(binary.LittleEndian.Uint16(raw[2:])) + frameOverhead
		if len(raw) < total {
			return // payload incomplete
		}

		frm := make([]byte, total)
		copy(frm, raw[:total])
		v.rxBuffer.Next(total)

		cmd, payload, ok := parseFrame(frm)
		if !ok {
			// A real modem stays silent on an unparseable frame; the
			// host's read budget turns that into a timeout.
			continue
		}
		v.handleCommand(cmd, payload)
	}
}

// handleCommand runs one command against the simulated state machine.
func (v *VirtualModem) handleCommand(cmd byte, payload []byte) {
	if v.faultNextResponse {
		v.faultNextResponse = false
		v.respond(RespFault, []byte{ReasonUnspecified})
		return
	}
	if reason, ok := v.failNext[cmd]; ok {
		delete(v.failNext, cmd)
		v.respond(RespCmdError, []byte{reason})
		return
	}

	switch cmd {
	case CmdInit:
		v.handleInit()
	case CmdWriteBootloaderChunk:
		v.handleBootloaderChunk(payload)
	case CmdWriteChunk:
		v.handleAddressedChunk(payload)
	case CmdTransferStart:
		v.handleTransferStart()
	case CmdTransferEnd:
		v.handleTransferEnd()
	case CmdGetMemoryHash:
		v.handleMemoryHash(payload)
	case CmdGetUUID:
		v.handleUUID()
	case CmdEnd:
		v.handleEnd()
	default:
		v.respond(RespUnknownCmd, []byte{ReasonUnspecified})
	}
}

func (v *VirtualModem) handleInit() {
	v.phase = PhaseWaitBootloader
	v.transferActive = false
	v.bootloader.Reset()

	body := make([]byte, digestLen+4)
	copy(body, v.rootKeyDigest[:])
	binary.LittleEndian.PutUint32(body[digestLen:], v.rpcBufferLen)
	v.respond(CmdInit, body)
}

func (v *VirtualModem) handleBootloaderChunk(payload []byte) {
	switch {
	case v.phase != PhaseWaitBootloader:
		v.respond(RespCmdError, []byte{ReasonNotInDFUMode})
	case !v.transferActive:
		v.respond(RespCmdError, []byte{ReasonNoTransfer})
	case len(payload) == 0:
		v.respond(RespCmdError, []byte{ReasonLengthInvalid})
	case len(payload)+frameOverhead > int(v.rpcBufferLen):
		v.respond(RespCmdError, []byte{ReasonBufferOverflow})
	default:
		v.bootloader.Write(payload)
		v.respond(CmdWriteBootloaderChunk, nil)
	}
}

func (v *VirtualModem) handleAddressedChunk(payload []byte) {
	switch {
	case v.phase != PhaseReady:
		v.respond(RespCmdError, []byte{ReasonNotInDFUMode})
	case !v.transferActive:
		v.respond(RespCmdError, []byte{ReasonNoTransfer})
	case len(payload) < 5:
		v.respond(RespCmdError, []byte{ReasonLengthInvalid})
	case len(payload)+frameOverhead > int(v.rpcBufferLen):
		v.respond(RespCmdError, []byte{ReasonBufferOverflow})
	default:
		addr := binary.LittleEndian.Uint32(payload)
		for i, b := range payload[4:] {
			v.flash[addr+uint32(i)] = b
		}
		v.respond(CmdWriteChunk, nil)
	}
}

func (v *VirtualModem) handleTransferStart() {
	switch {
	case v.phase == PhaseNormal:
		v.respond(RespCmdError, []byte{ReasonNotInDFUMode})
	case v.transferActive:
		v.respond(RespCmdError, []byte{ReasonTransferActive})
	default:
		v.transferActive = true
		v.respond(CmdTransferStart, nil)
	}
}

func (v *VirtualModem) handleTransferEnd() {
	switch {
	case v.phase == PhaseNormal:
		v.respond(RespCmdError, []byte{ReasonNotInDFUMode})
	case !v.transferActive:
		v.respond(RespCmdError, []byte{ReasonNoTransfer})
	default:
		v.transferActive = false
		// Committing the bootloader segment hands control to it.
		if v.phase == PhaseWaitBootloader && v.bootloader.Len() > 0 {
			v.phase = PhaseReady
		}
		v.respond(CmdTransferEnd, nil)
	}
}

func (v *VirtualModem) handleMemoryHash(payload []byte) {
	switch {
	case v.phase != PhaseReady:
		v.respond(RespCmdError, []byte{ReasonNotInDFUMode})
	case len(payload) != 8:
		v.respond(RespCmdError, []byte{ReasonLengthInvalid})
	default:
		start := binary.LittleEndian.Uint32(payload)
		end := binary.LittleEndian.Uint32(payload[4:])
		if start >= end {
			v.respond(RespCmdError, []byte{ReasonAddressRange})
			return
		}
		sum := sha256.Sum256(v.flashRangeLocked(start, end))
		v.respond(CmdGetMemoryHash, sum[:])
	}
}

func (v *VirtualModem) handleUUID() {
	if v.phase == PhaseNormal {
		v.respond(RespCmdError, []byte{ReasonNotInDFUMode})
		return
	}
	v.respond(CmdGetUUID, v.uuid[:])
}

func (v *VirtualModem) handleEnd() {
	if v.phase == PhaseNormal {
		v.respond(RespCmdError, []byte{ReasonNotInDFUMode})
		return
	}
	v.phase = PhaseNormal
	v.transferActive = false
	v.respond(CmdEnd, nil)
}

// respond queues one response frame, applying pending injections.
func (v *VirtualModem) respond(id byte, payload []byte) {
	if v.dropNextResponse {
		v.dropNextResponse = false
		return
	}
	frm := buildFrame(id, payload)
	if v.corruptNextResponse {
		v.corruptNextResponse = false
		frm[len(frm)-2] ^= 0xFF // flip a CRC byte
	}
	v.txBuffer.Write(frm)
}

// buildFrame assembles a frame with the mirrored codec.
func buildFrame(id byte, payload []byte) []byte {
	frm := make([]byte, len(payload)+frameOverhead)
	frm[0] = frameSOP
	frm[1] = id
	binary.LittleEndian.PutUint16(frm[2:], uint16(len(payload)))
	copy(frm[4:], payload)
	crc := crc16(frm[1 : 4+len(payload)])
	binary.LittleEndian.PutUint16(frm[4+len(payload):], crc)
	frm[len(frm)-1] = frameEOP
	return frm
}

// parseFrame validates a complete frame, returning ok=false on any
// structural or checksum problem.
func parseFrame(frm []byte) (id byte, payload []byte, ok bool) {
	if len(frm) < frameOverhead || frm[0] != frameSOP || frm[len(frm)-1] != frameEOP {
		return 0, nil, false
	}
	plen := int(binary.LittleEndian.Uint16(frm[2:]))
	if len(frm) != plen+frameOverhead {
		return 0, nil, false
	}
	if crc16(frm[1:4+plen]) != binary.LittleEndian.Uint16(frm[4+plen:]) {
		return 0, nil, false
	}
	return frm[1], frm[4 : 4+plen], true
}

// crc16 computes CRC-16/CCITT-FALSE, matching internal/rpc.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
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
