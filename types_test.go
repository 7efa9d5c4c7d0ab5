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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest_String(t *testing.T) {
	t.Parallel()
	var d Digest
	d[0] = 0xAB
	d[31] = 0x01

	s := d.String()
	assert.Len(t, s, 64)
	assert.True(t, strings.HasPrefix(s, "ab"))
	assert.True(t, strings.HasSuffix(s, "01"))
	assert.Equal(t, strings.ToLower(s), s)
}

func TestUUID_String(t *testing.T) {
	t.Parallel()
	var u UUID
	copy(u[:], "f1df607e-63f1-4fa8-8677-dde48ed6b6fb")
	assert.Equal(t, "f1df607e-63f1-4fa8-8677-dde48ed6b6fb", u.String())
}
