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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModemState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "waiting-for-bootloader", StateWaitingForBootloader.String())
	assert.Equal(t, "ready-for-ipc-commands", StateReadyForIPCCommands.String())
	assert.Equal(t, "bad", StateBad.String())
	assert.Equal(t, "unknown(9)", ModemState(9).String())
}

// The state values are part of the library contract.
func TestModemState_StableValues(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1, int(StateUninitialized))
	assert.Equal(t, 2, int(StateWaitingForBootloader))
	assert.Equal(t, 3, int(StateReadyForIPCCommands))
	assert.Equal(t, 4, int(StateBad))
}
