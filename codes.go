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
	"errors"
)

// ReturnCode is the numeric result of an update operation. The values are
// stable and match the modem library contract, so they are safe to persist,
// log, or use as process exit codes.
type ReturnCode int

// Operation return codes
const (
	// RetSuccess indicates the operation completed
	RetSuccess ReturnCode = 0
	// RetIPCFaultEvent indicates the modem raised a fault on the IPC channel
	RetIPCFaultEvent ReturnCode = -1
	// RetUnexpectedResponse indicates an unexpected or unclassified failure
	RetUnexpectedResponse ReturnCode = -2
	// RetCommandFailed indicates the modem reported a command execution error
	RetCommandFailed ReturnCode = -3
	// RetCommandFault indicates the modem did not recognize the command
	RetCommandFault ReturnCode = -4
	// RetTimeout indicates the modem did not answer in time
	RetTimeout ReturnCode = -5
	// RetInvalidArgument indicates a caller argument was rejected locally
	RetInvalidArgument ReturnCode = -6
	// RetInvalidOperation indicates the operation is not allowed in the
	// current modem state
	RetInvalidOperation ReturnCode = -7
)

func (c ReturnCode) String() string {
	switch c {
	case RetSuccess:
		return "success"
	case RetIPCFaultEvent:
		return "ipc fault event"
	case RetUnexpectedResponse:
		return "unexpected response"
	case RetCommandFailed:
		return "command failed"
	case RetCommandFault:
		return "command fault"
	case RetTimeout:
		return "timeout"
	case RetInvalidArgument:
		return "invalid argument"
	case RetInvalidOperation:
		return "invalid operation"
	default:
		return "unknown"
	}
}

// Code maps an operation error onto its return code. A nil error is
// RetSuccess; context cancellation and deadline expiry count as timeouts;
// anything the error chain does not classify is RetUnexpectedResponse.
func Code(err error) ReturnCode {
	if err == nil {
		return RetSuccess
	}

	switch {
	case errors.Is(err, ErrIPCFault):
		return RetIPCFaultEvent
	case errors.Is(err, ErrCommandFailed):
		return RetCommandFailed
	case errors.Is(err, ErrCommandFault):
		return RetCommandFault
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrTransportTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return RetTimeout
	case errors.Is(err, ErrInvalidArgument):
		return RetInvalidArgument
	case errors.Is(err, ErrInvalidOperation):
		return RetInvalidOperation
	default:
		return RetUnexpectedResponse
	}
}
