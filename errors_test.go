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
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	tests := getIsRetryableTestCases()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func getIsRetryableTestCases() []struct {
	err  error
	name string
	want bool
} {
	return []struct {
		err  error
		name string
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "transport timeout retryable",
			err:  ErrTransportTimeout,
			want: true,
		},
		{
			name: "transport read retryable",
			err:  ErrTransportRead,
			want: true,
		},
		{
			name: "transport write retryable",
			err:  ErrTransportWrite,
			want: true,
		},
		{
			name: "modem timeout retryable",
			err:  ErrTimeout,
			want: true,
		},
		{
			name: "frame corrupted retryable",
			err:  ErrFrameCorrupted,
			want: true,
		},
		{
			name: "frame truncated retryable",
			err:  ErrFrameTruncated,
			want: true,
		},
		{
			name: "checksum mismatch retryable",
			err:  ErrChecksumMismatch,
			want: true,
		},
		{
			name: "device not found not retryable",
			err:  ErrDeviceNotFound,
			want: false,
		},
		{
			name: "data too large not retryable",
			err:  ErrDataTooLarge,
			want: false,
		},
		{
			name: "invalid argument not retryable",
			err:  ErrInvalidArgument,
			want: false,
		},
		{
			name: "wrapped retryable error",
			err:  fmt.Errorf("receive: %w", ErrChecksumMismatch),
			want: true,
		},
		{
			name: "transport error honors its flag",
			err:  NewTimeoutError("SendCommand", "/dev/ttyACM0"),
			want: true,
		},
		{
			name: "permanent transport error",
			err:  NewDataTooLargeError("SendCommand", "/dev/ttyACM0"),
			want: false,
		},
		{
			name: "modem reply never retryable",
			err:  NewModemErrorWithReason(respCmdError, ReasonFlashWrite, "write_chunk", 128),
			want: false,
		},
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{nil, "nil", false},
		{ErrIPCFault, "ipc fault", true},
		{ErrTransportClosed, "transport closed", true},
		{ErrDeviceNotFound, "device not found", true},
		{io.EOF, "eof", true},
		{io.ErrClosedPipe, "closed pipe", true},
		{syscall.ENODEV, "device gone errno", true},
		{syscall.EIO, "io errno", true},
		{ErrChecksumMismatch, "checksum mismatch", false},
		{NewDataTooLargeError("op", "port"), "permanent transport error", true},
		{NewTimeoutError("op", "port"), "timeout transport error", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsFatal(tc.err))
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRecoverable(ErrFrameCorrupted))
	assert.True(t, IsRecoverable(ErrFrameTruncated))
	assert.True(t, IsRecoverable(ErrChecksumMismatch))
	assert.False(t, IsRecoverable(ErrTransportTimeout))
	assert.False(t, IsRecoverable(nil))
}

func TestGetErrorType(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(ErrTransportTimeout))
	assert.Equal(t, ErrorTypeTransient, GetErrorType(ErrChecksumMismatch))
	assert.Equal(t, ErrorTypePermanent, GetErrorType(ErrDataTooLarge))
	assert.Equal(t, ErrorTypePermanent, GetErrorType(NewInvalidResponseError("op", "port")))
}

func TestTransportError_Error(t *testing.T) {
	t.Parallel()
	withPort := NewTimeoutError("receiveResponse", "/dev/ttyACM0")
	assert.Contains(t, withPort.Error(), "receiveResponse /dev/ttyACM0")

	withoutPort := NewTransportError("drain", "", ErrTransportRead, ErrorTypeTransient)
	assert.Contains(t, withoutPort.Error(), "drain:")
	require.ErrorIs(t, withoutPort, ErrTransportRead)
}

func TestModemError_Error(t *testing.T) {
	t.Parallel()
	err := NewModemErrorWithReason(respCmdError, ReasonAddressRange, "write_chunk", 2048)
	msg := err.Error()
	assert.Contains(t, msg, "write_chunk")
	assert.Contains(t, msg, "0xE1")
	assert.Contains(t, msg, "target address outside writable range")
	assert.Contains(t, msg, "sent 2048 bytes")
	assert.False(t, err.IsFault())
	assert.False(t, err.IsUnknownCommand())
	require.ErrorIs(t, err, ErrCommandFailed)
}

func TestModemError_Classification(t *testing.T) {
	t.Parallel()
	fault := NewModemError(respFault, "any", "unsolicited")
	assert.True(t, fault.IsFault())
	assert.True(t, IsModemFault(fault))
	require.ErrorIs(t, fault, ErrIPCFault)

	unknown := NewModemError(respUnknownCmd, "transfer_start", "")
	assert.True(t, unknown.IsUnknownCommand())
	require.ErrorIs(t, unknown, ErrCommandFault)

	other := NewModemError(0x55, "any", "")
	require.ErrorIs(t, other, ErrUnexpectedResponse)
}

func TestModemError_UnknownReason(t *testing.T) {
	t.Parallel()
	err := NewModemErrorWithReason(respCmdError, 0x7F, "init", 0)
	assert.Contains(t, err.Error(), "unknown reason")
}

func TestTraceBuffer(t *testing.T) {
	t.Parallel()
	tb := NewTraceBuffer("uart", "/dev/ttyACM0", 2)
	tb.RecordTX([]byte{0x7E, 0x01}, "command")
	tb.RecordRX([]byte{0x7E, 0x01}, "response")
	tb.RecordTimeout("no response")

	// Capacity 2: the oldest entry is evicted.
	err := tb.WrapError(ErrTransportTimeout)
	require.Error(t, err)

	var te *TraceableError
	require.ErrorAs(t, err, &te)
	assert.Len(t, te.Trace, 2)
	assert.Contains(t, te.FormatTrace(), "uart")
	assert.Contains(t, te.FormatTrace(), "TIMEOUT: no response")
	require.ErrorIs(t, err, ErrTransportTimeout)

	assert.True(t, HasTrace(err))
	assert.NotNil(t, GetTrace(err))
	assert.False(t, HasTrace(ErrTransportTimeout))
	assert.Nil(t, GetTrace(ErrTransportTimeout))
}

func TestTraceBuffer_WrapNil(t *testing.T) {
	t.Parallel()
	tb := NewTraceBuffer("spi", "bus0", 0)
	tb.RecordTX([]byte{0x01}, "")
	require.NoError(t, tb.WrapError(nil))
}

func TestTraceBuffer_Clear(t *testing.T) {
	t.Parallel()
	tb := NewTraceBuffer("shm", "/dev/shm/modem0", 4)
	tb.RecordTX([]byte{0x01}, "")
	tb.Clear()

	var te *TraceableError
	require.ErrorAs(t, tb.WrapError(errors.New("boom")), &te)
	assert.Empty(t, te.Trace)
	assert.Contains(t, te.FormatTrace(), "no trace data")
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "7E 01 FF", formatHexBytes([]byte{0x7E, 0x01, 0xFF}))

	long := formatHexBytes(make([]byte, 64))
	assert.Contains(t, long, "(64 bytes total)")
}
