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
	"testing"
	"time"

	testutil "github.com/OpenModemProject/go-fmfu/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a client over a mock transport preloaded with a
// successful init response. All other commands succeed with empty payloads
// unless reconfigured.
func newTestClient(t *testing.T) (*MockTransport, *Client) {
	t.Helper()
	mock := NewMockTransport()
	mock.SetResponse(testutil.CmdInit, testutil.BuildDefaultInitResponse())
	client, err := New(mock)
	require.NoError(t, err)
	return mock, client
}

// enterDFU drives the client into StateWaitingForBootloader.
func enterDFU(t *testing.T, client *Client) *InitInfo {
	t.Helper()
	info, err := client.InitContext(context.Background())
	require.NoError(t, err)
	return info
}

// enterReady drives the client through the bootloader hand-off into
// StateReadyForIPCCommands.
func enterReady(t *testing.T, client *Client) {
	t.Helper()
	enterDFU(t, client)
	ctx := context.Background()
	require.NoError(t, client.TransferStartContext(ctx))
	require.NoError(t, client.WriteMemoryChunkContext(ctx, &MemoryChunk{Data: []byte{0x01, 0x02}}))
	require.NoError(t, client.TransferEndContext(ctx))
}

func TestClient_InitContext(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)

	info := enterDFU(t, client)
	assert.Equal(t, StateWaitingForBootloader, client.State())
	assert.Equal(t, uint32(testutil.DefaultRPCBufferLen), info.RPCBufferLen)
	assert.Equal(t, uint32(testutil.DefaultRPCBufferLen), client.RPCBufferLen())
	assert.Equal(t, int(testutil.DefaultRPCBufferLen)-frameOverhead-chunkAddrLen, client.MaxChunkSize())
	assert.Equal(t, 1, mock.GetCallCount(testutil.CmdInit))
}

func TestClient_InitContext_AlreadyActive(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)
	enterDFU(t, client)

	_, err := client.InitContext(context.Background())
	require.ErrorIs(t, err, ErrInvalidOperation)
	assert.Equal(t, RetInvalidOperation, Code(err))
}

func TestClient_InitContext_ShortPayload(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdInit, append([]byte{testutil.CmdInit}, make([]byte, 8)...))

	_, err := client.InitContext(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, StateBad, client.State())
}

func TestClient_InitContext_UnusableBufferLen(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdInit, testutil.BuildInitResponse([32]byte{}, 4))

	_, err := client.InitContext(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, StateBad, client.State())
}

func TestClient_InitContext_RecoversBadSession(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdTransferStart, testutil.BuildFaultResponse(testutil.ReasonUnspecified))

	enterDFU(t, client)
	err := client.TransferStartContext(context.Background())
	require.Error(t, err)
	require.Equal(t, StateBad, client.State())

	// Init is the only way out of a degraded session.
	enterDFU(t, client)
	assert.Equal(t, StateWaitingForBootloader, client.State())
}

func TestClient_EndContext(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)
	enterDFU(t, client)

	require.NoError(t, client.EndContext(context.Background()))
	assert.Equal(t, StateUninitialized, client.State())
	assert.Zero(t, client.RPCBufferLen())
}

func TestClient_EndContext_NoSession(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)

	err := client.EndContext(context.Background())
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestClient_WriteMemoryChunkContext_RoutesByState(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	ctx := context.Background()
	enterDFU(t, client)

	// Waiting for bootloader: raw data on the bootloader command, no
	// address prefix.
	data := []byte{0xAA, 0xBB, 0xCC}
	require.NoError(t, client.WriteMemoryChunkContext(ctx, &MemoryChunk{Data: data, TargetAddress: 0x1234}))
	assert.Equal(t, data, mock.GetLastArgs(testutil.CmdWriteBootloaderChunk))
	assert.Zero(t, mock.GetCallCount(testutil.CmdWriteChunk))

	require.NoError(t, client.TransferEndContext(ctx))
	require.Equal(t, StateReadyForIPCCommands, client.State())

	// Ready: addressed command with little-endian target address prefix.
	require.NoError(t, client.WriteMemoryChunkContext(ctx, &MemoryChunk{Data: data, TargetAddress: 0x00010000}))
	args := mock.GetLastArgs(testutil.CmdWriteChunk)
	require.Len(t, args, chunkAddrLen+len(data))
	assert.Equal(t, uint32(0x00010000), binary.LittleEndian.Uint32(args))
	assert.Equal(t, data, args[chunkAddrLen:])
}

func TestClient_WriteMemoryChunkContext_Invalid(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)
	ctx := context.Background()

	err := client.WriteMemoryChunkContext(ctx, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = client.WriteMemoryChunkContext(ctx, &MemoryChunk{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	// No session yet.
	err = client.WriteMemoryChunkContext(ctx, &MemoryChunk{Data: []byte{0x01}})
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestClient_WriteMemoryChunkContext_PayloadTooLarge(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)
	enterDFU(t, client)

	oversized := make([]byte, testutil.DefaultRPCBufferLen)
	err := client.WriteMemoryChunkContext(context.Background(), &MemoryChunk{Data: oversized})
	require.ErrorIs(t, err, ErrInvalidArgument)
	// A local rejection does not degrade the session.
	assert.Equal(t, StateWaitingForBootloader, client.State())
}

func TestClient_TransferEndContext_BootloaderHandOff(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)
	enterReady(t, client)
	assert.Equal(t, StateReadyForIPCCommands, client.State())

	// A later transfer end does not change the state again.
	require.NoError(t, client.TransferEndContext(context.Background()))
	assert.Equal(t, StateReadyForIPCCommands, client.State())
}

func TestClient_TransferContext_InvalidState(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)
	ctx := context.Background()

	require.ErrorIs(t, client.TransferStartContext(ctx), ErrInvalidOperation)
	require.ErrorIs(t, client.TransferEndContext(ctx), ErrInvalidOperation)
}

func TestClient_GetMemoryHashContext(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	want := [32]byte{0x01, 0x02, 0x03}
	mock.SetResponse(testutil.CmdGetMemoryHash, testutil.BuildMemoryHashResponse(want))
	enterReady(t, client)

	digest, err := client.GetMemoryHashContext(context.Background(), 0x1000, 0x2000)
	require.NoError(t, err)
	assert.Equal(t, Digest(want), digest)

	args := mock.GetLastArgs(testutil.CmdGetMemoryHash)
	require.Len(t, args, 8)
	assert.Equal(t, uint32(0x1000), binary.LittleEndian.Uint32(args))
	assert.Equal(t, uint32(0x2000), binary.LittleEndian.Uint32(args[4:]))
}

func TestClient_GetMemoryHashContext_EmptyRange(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)
	enterReady(t, client)

	_, err := client.GetMemoryHashContext(context.Background(), 0x2000, 0x2000)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClient_GetMemoryHashContext_NotReady(t *testing.T) {
	t.Parallel()
	_, client := newTestClient(t)
	enterDFU(t, client)

	_, err := client.GetMemoryHashContext(context.Background(), 0, 0x1000)
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestClient_GetMemoryHashContext_ShortDigest(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdGetMemoryHash, append([]byte{testutil.CmdGetMemoryHash}, make([]byte, 16)...))
	enterReady(t, client)

	_, err := client.GetMemoryHashContext(context.Background(), 0, 0x1000)
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, StateBad, client.State())
}

func TestClient_GetUUIDContext(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdGetUUID, testutil.BuildUUIDResponse(testutil.DefaultUUID))
	enterDFU(t, client)

	uuid, err := client.GetUUIDContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultUUID, uuid.String())
}

func TestClient_GetUUIDContext_WrongLength(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdGetUUID, append([]byte{testutil.CmdGetUUID}, []byte("short")...))
	enterDFU(t, client)

	_, err := client.GetUUIDContext(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, StateBad, client.State())
}

func TestClient_Exchange_CommandError(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdTransferStart,
		testutil.BuildCommandErrorResponse(testutil.ReasonTransferActive))
	enterDFU(t, client)

	err := client.TransferStartContext(context.Background())
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, RetCommandFailed, Code(err))

	var me *ModemError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ReasonTransferActive, me.Reason)
	// A coherent refusal leaves the session usable.
	assert.Equal(t, StateWaitingForBootloader, client.State())
}

func TestClient_Exchange_UnknownCommand(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdTransferStart, testutil.BuildUnknownCommandResponse())
	enterDFU(t, client)

	err := client.TransferStartContext(context.Background())
	require.ErrorIs(t, err, ErrCommandFault)
	assert.Equal(t, RetCommandFault, Code(err))
	assert.Equal(t, StateWaitingForBootloader, client.State())
}

func TestClient_Exchange_Fault(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdTransferStart, testutil.BuildFaultResponse(testutil.ReasonUnspecified))
	enterDFU(t, client)

	err := client.TransferStartContext(context.Background())
	require.ErrorIs(t, err, ErrIPCFault)
	assert.Equal(t, RetIPCFaultEvent, Code(err))
	assert.True(t, IsModemFault(err))
	assert.Equal(t, StateBad, client.State())
}

func TestClient_Exchange_MismatchedResponseID(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdTransferStart, []byte{testutil.CmdTransferEnd})
	enterDFU(t, client)

	err := client.TransferStartContext(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, StateBad, client.State())
}

func TestClient_Exchange_TrailingBytesDesync(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	mock.SetResponse(testutil.CmdTransferStart, []byte{testutil.CmdTransferStart, 0xFF})
	enterDFU(t, client)

	err := client.TransferStartContext(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, StateBad, client.State())
}

func TestClient_Exchange_TimeoutMarksBad(t *testing.T) {
	t.Parallel()
	mock, client := newTestClient(t)
	enterDFU(t, client)

	mock.SetDelay(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.TransferStartContext(ctx)
	require.Error(t, err)
	assert.Equal(t, RetTimeout, Code(err))
	assert.Equal(t, StateBad, client.State())
}
