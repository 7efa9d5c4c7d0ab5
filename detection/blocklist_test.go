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

package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBlocked(t *testing.T) {
	t.Parallel()
	blocklist := []string{"1234:5678", "abcd:ef01"}

	tests := []struct {
		name   string
		vidpid string
		want   bool
	}{
		{"exact match", "1234:5678", true},
		{"case insensitive", "ABCD:EF01", true},
		{"whitespace tolerated", " 1234:5678 ", true},
		{"not listed", "1915:520F", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsBlocked(tc.vidpid, blocklist))
		})
	}
}

func TestParseVIDPID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		descriptor string
		want       string
	}{
		{"plain format", "1915:520F", "1915:520F"},
		{"vid pid labels", "VID:1915 PID:520F", "1915:520F"},
		{"vendor product labels", "vendor=1915 product=520F", "1915:520F"},
		{"equals labels", "VID=1915 PID=520F", "1915:520F"},
		{"garbage", "not a descriptor", ""},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ParseVIDPID(tc.descriptor))
		})
	}
}

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		want        bool
	}{
		{"exact match", "/dev/ttyUSB0", []string{"/dev/ttyUSB0"}, true},
		{"not listed", "/dev/ttyACM0", []string{"/dev/ttyUSB0"}, false},
		{"unnormalized match", "/dev/../dev/ttyUSB0", []string{"/dev/ttyUSB0"}, true},
		{"case insensitive", "COM3", []string{"com3"}, true},
		{"empty list", "/dev/ttyUSB0", nil, false},
		{"empty path", "", []string{"/dev/ttyUSB0"}, false},
		{"empty entry skipped", "/dev/ttyUSB0", []string{"", "/dev/ttyUSB0"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsPathIgnored(tc.devicePath, tc.ignorePaths))
		})
	}
}
