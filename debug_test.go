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

// Debug toggling mutates package state, so these tests do not run in
// parallel with each other.
func TestSetDebugEnabled(t *testing.T) {
	orig := debugEnabled
	t.Cleanup(func() { debugEnabled = orig })

	SetDebugEnabled(true)
	assert.True(t, debugEnabled)

	SetDebugEnabled(false)
	assert.False(t, debugEnabled)
}

func TestDebugf_NoSessionLogDoesNotPanic(t *testing.T) {
	orig := debugEnabled
	t.Cleanup(func() { debugEnabled = orig })

	SetDebugEnabled(false)
	Debugf("quiet %s", "message")
	Debugln("quiet message")
}
