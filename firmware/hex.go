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

package firmware

import (
	"bytes"
	"fmt"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/marcinbor85/gohex"
)

// flattenIntelHex parses an Intel HEX image and flattens it into one
// contiguous byte slice starting at the lowest addressed byte. Gaps
// between data records read as erased flash (0xFF), matching what the
// modem hashes after the transfer.
func flattenIntelHex(raw []byte) (data []byte, base uint32, err error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
		return nil, 0, fmt.Errorf("parse intel hex: %w: %w", fmfu.ErrInvalidFormat, err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, 0, fmt.Errorf("intel hex image has no data records: %w", ErrEmptySegment)
	}

	base = segments[0].Address
	var end uint32
	for _, segment := range segments {
		if segment.Address < base {
			base = segment.Address
		}
		if segEnd := segment.Address + uint32(len(segment.Data)); segEnd > end {
			end = segEnd
		}
	}

	return mem.ToBinary(base, end-base, 0xFF), base, nil
}
