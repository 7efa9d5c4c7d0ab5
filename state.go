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

import "fmt"

// ModemState is the tracked lifecycle state of the modem during a firmware
// update session. The client mirrors the modem state locally; State never
// touches the wire.
type ModemState int

// Modem lifecycle states. The values are stable.
const (
	// StateUninitialized - modem running normal firmware, Init not called
	StateUninitialized ModemState = 1
	// StateWaitingForBootloader - DFU mode entered, bootloader not yet uploaded
	StateWaitingForBootloader ModemState = 2
	// StateReadyForIPCCommands - bootloader running, firmware commands accepted
	StateReadyForIPCCommands ModemState = 3
	// StateBad - a fault, timeout or protocol violation occurred; only Init
	// can recover the session
	StateBad ModemState = 4
)

func (s ModemState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWaitingForBootloader:
		return "waiting-for-bootloader"
	case StateReadyForIPCCommands:
		return "ready-for-ipc-commands"
	case StateBad:
		return "bad"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
