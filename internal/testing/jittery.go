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

package testing

import (
	"io"
	"math/rand/v2"
	"time"
)

// JitterConfig configures the behavior of JitteryConnection.
type JitterConfig struct {
	MaxLatencyMs     int
	FragmentMinBytes int
	StallAfterBytes  int
	StallDuration    time.Duration
	Seed             uint64
	FragmentReads    bool
}

// DefaultJitterConfig returns a configuration resembling a busy
// USB-serial bridge.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatencyMs:     20,
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitteryConnection wraps an io.ReadWriter to simulate the timing of a
// real modem link over a USB-UART bridge: unpredictable latency,
// fragmented delivery and the occasional mid-frame stall. Data is
// buffered internally so fragmentation never loses bytes.
//
// Useful for testing frame reader robustness and timeout handling that
// only misbehaves under realistic timing.
type JitteryConnection struct {
	backend        io.ReadWriter
	rng            *rand.Rand
	readBuf        []byte
	config         JitterConfig
	bytesDelivered int
	stallTriggered bool
}

// NewJitteryConnection wraps a backend io.ReadWriter with jitter
// simulation. A nonzero Seed makes the jitter reproducible.
func NewJitteryConnection(backend io.ReadWriter, config JitterConfig) *JitteryConnection {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}

	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}

	return &JitteryConnection{
		backend: backend,
		config:  config,
		rng:     rng,
		readBuf: make([]byte, 0, 1024),
	}
}

// Write passes writes through to the backend without modification.
// Jitter only affects reads, matching how bridge latency shows up in
// practice.
func (j *JitteryConnection) Write(data []byte) (int, error) {
	return j.backend.Write(data) //nolint:wrapcheck // Pass-through wrapper
}

// Read reads from the backend with simulated latency and
// fragmentation.
func (j *JitteryConnection) Read(buf []byte) (int, error) {
	if j.config.MaxLatencyMs > 0 {
		delay := time.Duration(j.rng.IntN(j.config.MaxLatencyMs+1)) * time.Millisecond
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	if j.config.StallAfterBytes > 0 && !j.stallTriggered &&
		j.bytesDelivered >= j.config.StallAfterBytes {
		j.stallTriggered = true
		if j.config.StallDuration > 0 {
			time.Sleep(j.config.StallDuration)
		}
	}

	// Top up the internal buffer from the backend.
	if len(j.readBuf) == 0 {
		tmp := make([]byte, max(len(buf), 256))
		n, err := j.backend.Read(tmp)
		if err != nil || n == 0 {
			return n, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.readBuf = append(j.readBuf, tmp[:n]...)
	}

	// Deliver a random fragment of what is buffered.
	n := min(len(j.readBuf), len(buf))
	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.readBuf[:n])
	j.readBuf = j.readBuf[n:]
	j.bytesDelivered += n
	return n, nil
}

// ResetStallState rearms the stall trigger between test operations.
func (j *JitteryConnection) ResetStallState() {
	j.bytesDelivered = 0
	j.stallTriggered = false
}
