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

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

// InitContext puts the modem into DFU mode. The modem reboots into its
// recovery ROM and reports the root key digest plus the RPC buffer length
// every later command must fit into. On success the tracked state becomes
// StateWaitingForBootloader.
//
// Init is valid once per session, or again after the session degraded to
// StateBad.
func (c *Client) InitContext(ctx context.Context) (*InitInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateWaitingForBootloader || c.state == StateReadyForIPCCommands {
		return nil, fmt.Errorf("init: session already active in state %s: %w", c.state, ErrInvalidOperation)
	}

	res, err := c.exchange(ctx, "init", cmdInit, nil, InitResponseTimeout)
	if err != nil {
		return nil, err
	}

	if len(res) != DigestLen+4 {
		c.state = StateBad
		return nil, fmt.Errorf("init: response payload %d bytes, want %d: %w",
			len(res), DigestLen+4, ErrUnexpectedResponse)
	}

	info := &InitInfo{}
	copy(info.RootKeyDigest[:], res[:DigestLen])
	info.RPCBufferLen = binary.LittleEndian.Uint32(res[DigestLen:])

	if info.RPCBufferLen < frameOverhead+chunkAddrLen+1 {
		c.state = StateBad
		return nil, fmt.Errorf("init: modem advertised unusable RPC buffer length %d: %w",
			info.RPCBufferLen, ErrUnexpectedResponse)
	}

	c.rpcBufferLen = info.RPCBufferLen
	c.state = StateWaitingForBootloader
	Debugf("init: DFU mode entered, RPC buffer %d bytes, root key digest %s",
		info.RPCBufferLen, info.RootKeyDigest)
	return info, nil
}

// EndContext finalizes the update session and restarts the modem into
// normal operation. On success the tracked state returns to
// StateUninitialized.
func (c *Client) EndContext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateWaitingForBootloader && c.state != StateReadyForIPCCommands {
		return fmt.Errorf("end: no active session in state %s: %w", c.state, ErrInvalidOperation)
	}

	res, err := c.exchange(ctx, "end", cmdEnd, nil, EndResponseTimeout)
	if err != nil {
		return err
	}
	if err := c.expectEmpty("end", res); err != nil {
		return err
	}

	c.state = StateUninitialized
	c.rpcBufferLen = 0
	Debugf("end: modem restarting into normal operation")
	return nil
}

// WriteMemoryChunkContext transmits one memory chunk. While the session is
// in StateWaitingForBootloader the chunk is part of the bootloader image and
// the target address is ignored; the modem stores bootloader chunks in
// arrival order. In StateReadyForIPCCommands the chunk is written to its
// target address.
func (c *Client) WriteMemoryChunkContext(ctx context.Context, chunk *MemoryChunk) error {
	if chunk == nil || len(chunk.Data) == 0 {
		return fmt.Errorf("write chunk: empty chunk data: %w", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateWaitingForBootloader:
		return c.writeBootloaderChunkLocked(ctx, chunk)
	case StateReadyForIPCCommands:
		return c.writeAddressedChunkLocked(ctx, chunk)
	default:
		return fmt.Errorf("write chunk: not allowed in state %s: %w", c.state, ErrInvalidOperation)
	}
}

func (c *Client) writeBootloaderChunkLocked(ctx context.Context, chunk *MemoryChunk) error {
	if err := c.checkPayloadFits(len(chunk.Data)); err != nil {
		return fmt.Errorf("write_bootloader_chunk: %w", err)
	}

	res, err := c.exchange(ctx, "write_bootloader_chunk", cmdWriteBootloaderChunk, chunk.Data, ChunkResponseTimeout)
	if err != nil {
		return err
	}
	return c.expectEmpty("write_bootloader_chunk", res)
}

func (c *Client) writeAddressedChunkLocked(ctx context.Context, chunk *MemoryChunk) error {
	if err := c.checkPayloadFits(chunkAddrLen + len(chunk.Data)); err != nil {
		return fmt.Errorf("write_chunk: %w", err)
	}

	payload := make([]byte, chunkAddrLen+len(chunk.Data))
	binary.LittleEndian.PutUint32(payload, chunk.TargetAddress)
	copy(payload[chunkAddrLen:], chunk.Data)

	res, err := c.exchange(ctx, "write_chunk", cmdWriteChunk, payload, ChunkResponseTimeout)
	if err != nil {
		return err
	}
	return c.expectEmpty("write_chunk", res)
}

// checkPayloadFits validates a command payload against the RPC buffer
// length the modem advertised at Init
func (c *Client) checkPayloadFits(payloadLen int) error {
	if payloadLen+frameOverhead > int(c.rpcBufferLen) {
		return fmt.Errorf("payload of %d bytes exceeds RPC buffer of %d: %w",
			payloadLen, c.rpcBufferLen, ErrInvalidArgument)
	}
	return nil
}

// TransferStartContext begins a logical segment transfer. The first
// transfer of a session carries the bootloader; later transfers carry
// addressed firmware segments.
func (c *Client) TransferStartContext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateWaitingForBootloader && c.state != StateReadyForIPCCommands {
		return fmt.Errorf("transfer_start: not allowed in state %s: %w", c.state, ErrInvalidOperation)
	}

	res, err := c.exchange(ctx, "transfer_start", cmdTransferStart, nil, DefaultResponseTimeout)
	if err != nil {
		return err
	}
	return c.expectEmpty("transfer_start", res)
}

// TransferEndContext ends the current segment transfer, committing the
// uploaded data. Completing the bootloader segment hands control to the
// bootloader: the tracked state moves to StateReadyForIPCCommands.
func (c *Client) TransferEndContext(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateWaitingForBootloader && c.state != StateReadyForIPCCommands {
		return fmt.Errorf("transfer_end: not allowed in state %s: %w", c.state, ErrInvalidOperation)
	}

	fromBootloader := c.state == StateWaitingForBootloader

	res, err := c.exchange(ctx, "transfer_end", cmdTransferEnd, nil, TransferEndTimeout)
	if err != nil {
		return err
	}
	if err := c.expectEmpty("transfer_end", res); err != nil {
		return err
	}

	if fromBootloader {
		c.state = StateReadyForIPCCommands
		Debugf("transfer_end: bootloader running, modem ready for IPC commands")
	}
	return nil
}

// GetMemoryHashContext reads the modem-computed 256-bit digest over the
// address range [start, end). The digest bytes arrive in modem-native
// order and are passed through untouched.
func (c *Client) GetMemoryHashContext(ctx context.Context, start, end uint32) (Digest, error) {
	var digest Digest

	if start >= end {
		return digest, fmt.Errorf("get_memory_hash: empty range [0x%08X, 0x%08X): %w",
			start, end, ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReadyForIPCCommands {
		return digest, fmt.Errorf("get_memory_hash: not allowed in state %s: %w", c.state, ErrInvalidOperation)
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload, start)
	binary.LittleEndian.PutUint32(payload[4:], end)

	res, err := c.exchange(ctx, "get_memory_hash", cmdGetMemoryHash, payload, HashResponseTimeout)
	if err != nil {
		return digest, err
	}
	if len(res) != DigestLen {
		c.state = StateBad
		return digest, fmt.Errorf("get_memory_hash: digest payload %d bytes, want %d: %w",
			len(res), DigestLen, ErrUnexpectedResponse)
	}

	copy(digest[:], res)
	return digest, nil
}

// GetUUIDContext reads the modem identity. Valid any time after Init,
// before or after the bootloader hand-off.
func (c *Client) GetUUIDContext(ctx context.Context) (UUID, error) {
	var uuid UUID

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateWaitingForBootloader && c.state != StateReadyForIPCCommands {
		return uuid, fmt.Errorf("get_uuid: not allowed in state %s: %w", c.state, ErrInvalidOperation)
	}

	res, err := c.exchange(ctx, "get_uuid", cmdGetUUID, nil, DefaultResponseTimeout)
	if err != nil {
		return uuid, err
	}
	if len(res) != UUIDLen {
		c.state = StateBad
		return uuid, fmt.Errorf("get_uuid: identity payload %d bytes, want %d: %w",
			len(res), UUIDLen, ErrUnexpectedResponse)
	}

	copy(uuid[:], res)
	return uuid, nil
}

// exchange sends one command and validates the response envelope. It must
// be called with the client mutex held. Wire-level failures and fault
// responses degrade the tracked state to StateBad; coherent modem error
// replies leave it unchanged.
func (c *Client) exchange(ctx context.Context, name string, cmd byte, payload []byte, timeout time.Duration) ([]byte, error) {
	opCtx, cancel := c.commandContext(ctx, timeout)
	defer cancel()

	res, err := c.transport.SendCommandWithContext(opCtx, cmd, payload)
	if err != nil {
		wrapped := fmt.Errorf("%s: %w", name, err)
		if failureMarksBad(wrapped) {
			c.state = StateBad
		}
		return nil, wrapped
	}

	if len(res) < 1 {
		c.state = StateBad
		return nil, fmt.Errorf("%s: empty response from transport: %w", name, ErrUnexpectedResponse)
	}

	respID, body := res[0], res[1:]
	switch respID {
	case cmd:
		return body, nil
	case respFault:
		c.state = StateBad
		return nil, modemReplyError(name, respFault, body, len(payload))
	case respCmdError, respUnknownCmd:
		return nil, modemReplyError(name, respID, body, len(payload))
	default:
		c.state = StateBad
		return nil, fmt.Errorf("%s: response id 0x%02X for command 0x%02X: %w",
			name, respID, cmd, ErrUnexpectedResponse)
	}
}

// modemReplyError builds a ModemError from an error response, picking up
// the reason code when the modem included one
func modemReplyError(name string, respID byte, body []byte, bytesSent int) error {
	reason := ReasonUnspecified
	if len(body) > 0 {
		reason = body[0]
	}
	return NewModemErrorWithReason(respID, reason, name, bytesSent)
}

// expectEmpty enforces an empty success payload. Trailing bytes mean the
// link is desynchronized, so the state degrades.
func (c *Client) expectEmpty(name string, res []byte) error {
	if len(res) != 0 {
		c.state = StateBad
		return fmt.Errorf("%s: unexpected %d-byte payload: %w", name, len(res), ErrUnexpectedResponse)
	}
	return nil
}

// commandContext applies the per-command response timeout unless the
// caller already set a deadline
func (c *Client) commandContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if c.config.Timeout > 0 {
		timeout = c.config.Timeout
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// failureMarksBad reports whether a failure degrades the session. IPC
// faults, timeouts and desync leave the modem in an unknown condition;
// coherent refusals and local argument errors do not.
func failureMarksBad(err error) bool {
	switch Code(err) {
	case RetIPCFaultEvent, RetTimeout, RetUnexpectedResponse:
		return true
	case RetSuccess, RetCommandFailed, RetCommandFault, RetInvalidArgument, RetInvalidOperation:
		return false
	default:
		return false
	}
}
