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

import "time"

// Connection retry constants control modem connection behavior.
const (
	// DefaultConnectionRetries is the number of attempts to connect to a device.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0) to prevent thundering herd.
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Response timeouts per command class. Flash and reboot operations run far
// longer than control commands, so each class carries its own budget.
const (
	// DefaultResponseTimeout covers control commands (transfer start,
	// identity query).
	DefaultResponseTimeout = 1 * time.Second
	// InitResponseTimeout covers Init: the modem reboots into DFU mode
	// before it can answer.
	InitResponseTimeout = 10 * time.Second
	// ChunkResponseTimeout covers one chunk write, including the flash
	// programming time on the modem side.
	ChunkResponseTimeout = 2 * time.Second
	// TransferEndTimeout covers segment commit. Completing the bootloader
	// segment includes signature verification on the modem.
	TransferEndTimeout = 10 * time.Second
	// HashResponseTimeout covers digest calculation, which walks the full
	// requested flash range.
	HashResponseTimeout = 30 * time.Second
	// EndResponseTimeout covers End: the modem restarts into normal
	// operation before the link drops.
	EndResponseTimeout = 10 * time.Second
)

// Transport retry constants control low-level transport communication.
const (
	// TransportDrainRetries is the number of attempts to drain stale data from buffer.
	TransportDrainRetries = 3
	// TransportFrameRetries is the number of attempts to receive a complete frame.
	TransportFrameRetries = 3
)

// Chunk transfer retry constants control operation-level retry in the updater.
const (
	// ChunkWriteRetries is the number of attempts for one addressed chunk write.
	ChunkWriteRetries = 3
	// SegmentTransferRetries is the number of attempts for a whole segment transfer.
	SegmentTransferRetries = 2
)
