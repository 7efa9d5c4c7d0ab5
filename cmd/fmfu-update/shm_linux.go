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

//go:build linux

package main

import (
	"fmt"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/OpenModemProject/go-fmfu/transport/shm"
)

func newSHMTransport(path string) (fmfu.Transport, error) {
	transport, err := shm.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared-memory transport for %s: %w", path, err)
	}
	return transport, nil
}
